package query

import (
	"strconv"
	"strings"
)

// Bind substitutes ponysql's JDBC-style positional placeholders (?) with
// args for display in a log line — it never touches the wire: the actual
// parameters a caller passes to conn.Conn.Query travel out-of-band as
// wire.Value, already typed and already safe from injection. Bind exists
// only so a chatty-query alert can show what a query looked like with its
// bound values filled in, not to build a query to execute.
func Bind(sql string, args []string) string {
	if len(args) == 0 {
		return sql
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteArg(a)
	}

	result := &strings.Builder{}
	argIdx := 0
	for i := range len(sql) {
		if sql[i] == '?' && argIdx < len(quoted) {
			result.WriteString(quoted[argIdx])
			argIdx++
		} else {
			result.WriteByte(sql[i])
		}
	}
	return result.String()
}

// quoteArg wraps a non-numeric arg in single quotes, escaping internal quotes.
func quoteArg(s string) string {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s
	}
	if s == "true" || s == "false" || s == "null" || s == "NULL" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
