// Command ponysql-shell is an interactive TUI client exercising the
// conn and cursor packages end to end: a single-line SQL editor with
// syntax highlighting, run against either a real jdbc:pony:// server
// or (with no -url flag) an in-process ponyserver stub, and a
// scrollable result view over the rows read with the cursor's
// Next/GetObject operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ponysql/ponysql-go/conn"
	"github.com/ponysql/ponysql-go/ponyserver"
	"github.com/ponysql/ponysql-go/wire"
)

func main() {
	url := flag.String("url", "", "jdbc:pony://... connection url (empty runs an in-process stub server)")
	user := flag.String("user", "sa", "username")
	password := flag.String("password", "", "password")
	flag.Parse()

	c, err := connect(*url, *user, *password)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	m := newModel(c)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}

// connect dials url, or — if url is empty — boots an in-process
// ponyserver stub seeded with a small demo table and connects to it
// over the embedded in-memory transport.
func connect(url, user, password string) (*conn.Conn, error) {
	if url == "" {
		return connectEmbedded()
	}

	dsn, err := conn.ParseDSN(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	c, err := conn.DialTCP(context.Background(), dsn, user, password, conn.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return c, nil
}

func connectEmbedded() (*conn.Conn, error) {
	srv := ponyserver.New(ponyserver.Credentials{})
	table := srv.Catalog().CreateTable("widgets",
		wire.ColumnDescription{Name: "id", InternalType: wire.InternalNumeric},
		wire.ColumnDescription{Name: "name", InternalType: wire.InternalString},
	)
	for i, name := range []string{"bolt", "nut", "washer", "cog", "spring"} {
		if err := table.Insert([]wire.Value{wire.Int32(int32(i + 1)), wire.String(name)}); err != nil {
			return nil, fmt.Errorf("seed widgets: %w", err)
		}
	}

	c, err := conn.New(srv.ServeEmbedded(), "PUBLIC", "sa", "", conn.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("connect embedded: %w", err)
	}
	return c, nil
}
