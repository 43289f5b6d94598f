package ponyserver

import (
	"fmt"
	"strings"

	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// execResult is the outcome of running one query against the catalog.
type execResult struct {
	columns []wire.ColumnDescription
	rows    [][]wire.Value
}

// execute recognises a fixed-form SHOW CONNECTION_INFO, SELECT <cols>
// FROM <table>, and EXPLAIN / EXPLAIN ANALYZE of such a SELECT — which is all a
// scan-only stub server needs to exercise the driver's cursor and
// projection paths. Anything else is reported as an unsupported query,
// not a syntax error, since there is no parser behind this stub.
func (s *Server) execute(sql string, caseInsensitiveIdentifiers bool) (execResult, error) {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	switch {
	case upper == "SHOW CONNECTION_INFO":
		return execResult{
			columns: []wire.ColumnDescription{
				{Name: "case_insensitive_identifiers", InternalType: wire.InternalBoolean},
			},
			rows: [][]wire.Value{{wire.Bool(caseInsensitiveIdentifiers)}},
		}, nil

	case strings.HasPrefix(upper, "EXPLAIN ANALYZE "):
		return s.executeExplain(trimmed[len("EXPLAIN ANALYZE "):], true)

	case strings.HasPrefix(upper, "EXPLAIN "):
		return s.executeExplain(trimmed[len("EXPLAIN "):], false)

	case strings.HasPrefix(upper, "SELECT "):
		return s.executeSelect(trimmed)

	default:
		return execResult{}, ponyerr.NewProtocolError("unsupported query: %q", sql)
	}
}

// executeExplain fakes a plan for sql: a sequential-scan stub has only
// one plan shape — a full scan of the named table — so the "plan" is a
// few fixed lines naming the table, the selected column list and the
// row count the scan produces, in the stub's own vocabulary (there is
// no optimizer here to name join strategies or index choices). Both
// modes run the scan to count rows; EXPLAIN ANALYZE adds an
// "actual time" line whose value is always 0.0ms.
func (s *Server) executeExplain(sql string, analyze bool) (execResult, error) {
	colList, tableName, err := parseSelect(sql)
	if err != nil {
		return execResult{}, err
	}
	plan, err := s.executeSelect(sql)
	if err != nil {
		return execResult{}, err
	}

	lines := []string{
		fmt.Sprintf("scan %s", tableName),
		fmt.Sprintf("  columns: %s", colList),
		fmt.Sprintf("  rows: %d", len(plan.rows)),
	}
	if analyze {
		lines = append(lines, "  actual time: 0.0ms")
	}

	rows := make([][]wire.Value, len(lines))
	for i, line := range lines {
		rows[i] = []wire.Value{wire.String(line)}
	}
	return execResult{
		columns: []wire.ColumnDescription{{Name: "plan", InternalType: wire.InternalString}},
		rows:    rows,
	}, nil
}

// parseSelect splits "SELECT <cols> FROM <table>" into its column list
// and table name. Only a missing FROM is rejected; anything after the
// table name (WHERE, JOIN, ORDER BY, ...) is ignored.
func parseSelect(sql string) (colList, tableName string, err error) {
	upper := strings.ToUpper(sql)
	fromIdx := strings.Index(upper, " FROM ")
	if fromIdx < 0 {
		return "", "", ponyerr.NewProtocolError("malformed SELECT (missing FROM): %q", sql)
	}

	colList = strings.TrimSpace(sql[len("SELECT "):fromIdx])
	tableName = strings.TrimSpace(sql[fromIdx+len(" FROM "):])
	if idx := strings.IndexAny(tableName, " \t"); idx >= 0 {
		tableName = tableName[:idx] // drop a trailing clause we don't implement
	}
	return colList, tableName, nil
}

// executeSelect handles "SELECT col1, col2 FROM table" and
// "SELECT * FROM table", with no WHERE/JOIN/ORDER BY — a sequential
// scan and column projection, nothing more.
func (s *Server) executeSelect(sql string) (execResult, error) {
	colList, tableName, err := parseSelect(sql)
	if err != nil {
		return execResult{}, err
	}

	table, ok := s.catalog.Table(tableName)
	if !ok {
		return execResult{}, ponyerr.NewProtocolError("no such table: %q", tableName)
	}
	columns, rows := table.snapshot()

	if colList == "*" {
		return execResult{columns: columns, rows: rows}, nil
	}

	names := splitColumnList(colList)
	projIdx := make([]int, len(names))
	projCols := make([]wire.ColumnDescription, len(names))
	for i, name := range names {
		idx := columnIndex(columns, name)
		if idx < 0 {
			return execResult{}, ponyerr.NewProtocolError("no such column: %q", name)
		}
		projIdx[i] = idx
		projCols[i] = columns[idx]
	}

	projRows := make([][]wire.Value, len(rows))
	for i, row := range rows {
		projRow := make([]wire.Value, len(projIdx))
		for j, idx := range projIdx {
			projRow[j] = row[idx]
		}
		projRows[i] = projRow
	}
	return execResult{columns: projCols, rows: projRows}, nil
}

func splitColumnList(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func columnIndex(columns []wire.ColumnDescription, name string) int {
	for i, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
