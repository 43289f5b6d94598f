// Package ponyserver is an in-process stub implementation of the wire
// protocol's server side: handshake, login, a tiny in-memory table
// engine capable of SELECT and SHOW CONNECTION_INFO, streamable-object
// paging, and DATABASE_EVENT async delivery. It exists so the
// driver can be exercised end to end — over a real TCP listener or the
// embedded in-memory transport — without a real RDBMS behind it.
package ponyserver

import (
	"sort"
	"strings"
	"sync"

	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// Table is a fixed-schema, append-only in-memory row store.
type Table struct {
	mu      sync.RWMutex
	columns []wire.ColumnDescription
	rows    [][]wire.Value
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...wire.ColumnDescription) *Table {
	return &Table{columns: columns}
}

// Insert appends row, which must have one value per column.
func (t *Table) Insert(row []wire.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(row) != len(t.columns) {
		return ponyerr.NewProtocolError("row has %d values, table has %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, row)
	return nil
}

func (t *Table) snapshot() ([]wire.ColumnDescription, [][]wire.Value) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([][]wire.Value, len(t.rows))
	copy(rows, t.rows)
	return t.columns, rows
}

// Catalog is the server's named set of tables, guarded for concurrent
// access from any connection goroutine.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

// CreateTable registers name, replacing any existing table of the same
// name.
func (c *Catalog) CreateTable(name string, columns ...wire.ColumnDescription) *Table {
	t := NewTable(columns...)
	c.mu.Lock()
	c.tables[name] = t
	c.mu.Unlock()
	return t
}

// Table looks up a table by name, case-insensitively, matching the
// query engine's identifier handling.
func (c *Catalog) Table(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.tables[name]; ok {
		return t, true
	}
	for tableName, t := range c.tables {
		if strings.EqualFold(tableName, name) {
			return t, true
		}
	}
	return nil, false
}

// Names returns the catalog's table names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
