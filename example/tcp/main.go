// Command tcp is a minimal usage sample for the jdbc:pony:// TCP
// transport: it starts the bundled stub server, dials it with conn,
// and runs a few queries against a seeded table.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/ponysql/ponysql-go/conn"
	"github.com/ponysql/ponysql-go/ponyserver"
	"github.com/ponysql/ponysql-go/wire"
)

const listenAddr = "127.0.0.1:9157"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	srv := ponyserver.New(ponyserver.Credentials{})
	seed(srv)

	go func() {
		if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
			log.Printf("ponyserver: %v", err)
		}
	}()
	time.Sleep(50 * time.Millisecond) // let the listener come up

	dsn, err := conn.ParseDSN(fmt.Sprintf("jdbc:pony://%s/PUBLIC", listenAddr))
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}

	c, err := conn.DialTCP(ctx, dsn, "sa", "", conn.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = c.Close() }()
	fmt.Printf("connected to %s\n", listenAddr)

	return printWidgets(ctx, c)
}

func seed(srv *ponyserver.Server) {
	table := srv.Catalog().CreateTable("widgets",
		wire.ColumnDescription{Name: "id", InternalType: wire.InternalNumeric},
		wire.ColumnDescription{Name: "name", InternalType: wire.InternalString},
	)
	for i, name := range []string{"bolt", "nut", "washer"} {
		_ = table.Insert([]wire.Value{wire.Int32(int32(i + 1)), wire.String(name)})
	}
}

func printWidgets(ctx context.Context, c *conn.Conn) error {
	cur, err := c.Query(ctx, "SELECT id, name FROM widgets")
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer cur.Close()

	for {
		ok, err := cur.Next()
		if err != nil {
			return fmt.Errorf("next: %w", err)
		}
		if !ok {
			return nil
		}
		id, err := cur.GetInt("id")
		if err != nil {
			return fmt.Errorf("get id: %w", err)
		}
		name, err := cur.GetString("name")
		if err != nil {
			return fmt.Errorf("get name: %w", err)
		}
		fmt.Printf("widget %d: %s\n", id, name)
	}
}
