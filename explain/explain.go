// Package explain runs EXPLAIN / EXPLAIN ANALYZE queries against a
// live connection and collects the plan text, for tooling (such as
// cmd/ponysql-shell) that wants to show a query's plan alongside its
// results.
package explain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ponysql/ponysql-go/conn"
	"github.com/ponysql/ponysql-go/wire"
)

// Mode selects between EXPLAIN and EXPLAIN ANALYZE.
type Mode int

const (
	Explain Mode = iota // EXPLAIN (plan only)
	Analyze             // EXPLAIN ANALYZE (plan + actual execution)
)

func (m Mode) String() string {
	switch m {
	case Explain:
		return "EXPLAIN"
	case Analyze:
		return "EXPLAIN ANALYZE"
	}
	return "EXPLAIN"
}

func (m Mode) prefix() string {
	switch m {
	case Explain:
		return "EXPLAIN "
	case Analyze:
		return "EXPLAIN ANALYZE "
	}
	return "EXPLAIN "
}

// Result holds the output of an EXPLAIN query.
type Result struct {
	Plan     string
	Duration time.Duration
}

// Client runs EXPLAIN queries over an existing Conn. It owns no
// connection of its own — Close is a no-op left in place so callers
// can defer it symmetrically with other resource-owning clients.
type Client struct {
	conn *conn.Conn
}

// NewClient wraps c for running EXPLAIN queries. c's lifetime is the
// caller's responsibility.
func NewClient(c *conn.Conn) *Client {
	return &Client{conn: c}
}

// Run executes EXPLAIN or EXPLAIN ANALYZE for sql with params and
// collects the plan's lines, one per row of the first (and only
// expected) result column.
func (c *Client) Run(ctx context.Context, mode Mode, sql string, params ...wire.Value) (*Result, error) {
	start := time.Now()
	cur, err := c.conn.Query(ctx, mode.prefix()+sql, params...)
	if err != nil {
		return nil, fmt.Errorf("explain: query: %w", err)
	}
	defer cur.Close()

	cols := cur.Columns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("explain: plan result has no columns")
	}
	planColumn := cols[0].Name

	var lines []string
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, fmt.Errorf("explain: next: %w", err)
		}
		if !ok {
			break
		}
		line, err := cur.GetString(planColumn)
		if err != nil {
			return nil, fmt.Errorf("explain: get plan line: %w", err)
		}
		lines = append(lines, line)
	}

	return &Result{
		Plan:     strings.Join(lines, "\n"),
		Duration: time.Since(start),
	}, nil
}

// Close is a no-op: Client does not own conn.
func (c *Client) Close() error { return nil }
