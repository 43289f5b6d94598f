package query_test

import (
	"testing"

	"github.com/ponysql/ponysql-go/query"
)

func TestBind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		args []string
		want string
	}{
		{
			name: "no args",
			sql:  "SELECT 1",
			args: nil,
			want: "SELECT 1",
		},
		{
			name: "numeric",
			sql:  "SELECT * FROM users WHERE id = ?",
			args: []string{"42"},
			want: "SELECT * FROM users WHERE id = 42",
		},
		{
			name: "string",
			sql:  "SELECT * FROM users WHERE name = ?",
			args: []string{"alice"},
			want: "SELECT * FROM users WHERE name = 'alice'",
		},
		{
			name: "mixed placeholders",
			sql:  "SELECT * FROM users WHERE id = ? AND name = ?",
			args: []string{"42", "alice"},
			want: "SELECT * FROM users WHERE id = 42 AND name = 'alice'",
		},
		{
			name: "ten placeholders",
			sql:  "INSERT INTO t VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			args: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"},
			want: "INSERT INTO t VALUES (1, 2, 3, 4, 5, 6, 7, 8, 9, 10)",
		},
		{
			name: "more placeholders than args",
			sql:  "SELECT ? AND ? AND ?",
			args: []string{"1", "2"},
			want: "SELECT 1 AND 2 AND ?",
		},
		{
			name: "quote escaping",
			sql:  "SELECT * FROM users WHERE name = ?",
			args: []string{"O'Brien"},
			want: "SELECT * FROM users WHERE name = 'O''Brien'",
		},
		{
			name: "boolean not quoted",
			sql:  "SELECT * FROM users WHERE active = ?",
			args: []string{"true"},
			want: "SELECT * FROM users WHERE active = true",
		},
		{
			name: "null not quoted",
			sql:  "SELECT * FROM users WHERE name = ?",
			args: []string{"NULL"},
			want: "SELECT * FROM users WHERE name = NULL",
		},
		{
			name: "float not quoted",
			sql:  "SELECT * FROM t WHERE price > ?",
			args: []string{"3.14"},
			want: "SELECT * FROM t WHERE price > 3.14",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := query.Bind(tt.sql, tt.args)
			if got != tt.want {
				t.Errorf("Bind(%q, %v) = %q, want %q", tt.sql, tt.args, got, tt.want)
			}
		})
	}
}
