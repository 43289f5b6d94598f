// Command embedded is a minimal usage sample for the jdbc:pony:local://
// embedded transport: no TCP listener at all, just the stub server's
// in-memory pipe wired straight into a conn.Conn.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ponysql/ponysql-go/conn"
	"github.com/ponysql/ponysql-go/ponyserver"
	"github.com/ponysql/ponysql-go/trigger"
	"github.com/ponysql/ponysql-go/wire"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	srv := ponyserver.New(ponyserver.Credentials{})
	table := srv.Catalog().CreateTable("orders",
		wire.ColumnDescription{Name: "id", InternalType: wire.InternalNumeric},
		wire.ColumnDescription{Name: "status", InternalType: wire.InternalString},
	)
	_ = table.Insert([]wire.Value{wire.Int32(1), wire.String("pending")})

	c, err := conn.New(srv.ServeEmbedded(), "PUBLIC", "sa", "", conn.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = c.Close() }()

	c.Subscribe("orders_changed", func(ev trigger.Event) {
		fmt.Printf("trigger fired: %s from %s (count=%d)\n", ev.TriggerName, ev.Source, ev.FireCount)
	})

	ctx := context.Background()
	cur, err := c.Query(ctx, "SELECT id, status FROM orders")
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			return fmt.Errorf("next: %w", err)
		}
		if !ok {
			break
		}
		id, _ := cur.GetInt("id")
		status, _ := cur.GetString("status")
		fmt.Printf("order %d: %s\n", id, status)
	}
	_ = cur.Close()

	srv.Publish("orders_changed", "insert", 1)
	time.Sleep(50 * time.Millisecond) // let the trigger callback run before exit
	return nil
}
