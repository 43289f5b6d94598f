package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ponysql/ponysql-go/clipboard"
	"github.com/ponysql/ponysql-go/conn"
	"github.com/ponysql/ponysql-go/highlight"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Model is the Bubble Tea model for ponysql-shell: a single-line SQL
// input plus a scrollable table view over the last query's result.
type Model struct {
	conn *conn.Conn

	input string
	err   error

	columns []string
	rows    [][]string
	cursor  int

	width, height int
}

func newModel(c *conn.Conn) Model {
	return Model{conn: c}
}

type queryResultMsg struct {
	columns []string
	rows    [][]string
	err     error
}

type copiedMsg struct{ err error }

func copyRow(columns []string, row []string) tea.Cmd {
	return func() tea.Msg {
		err := clipboard.Copy(context.Background(), clipboard.FormatRow(columns, row))
		return copiedMsg{err: err}
	}
}

func runQuery(c *conn.Conn, sql string) tea.Cmd {
	return func() tea.Msg {
		cur, err := c.Query(context.Background(), sql)
		if err != nil {
			return queryResultMsg{err: err}
		}
		defer cur.Close()

		cols := cur.Columns()
		names := make([]string, len(cols))
		for i, col := range cols {
			names[i] = col.Name
		}

		var rows [][]string
		for {
			ok, err := cur.Next()
			if err != nil {
				return queryResultMsg{err: err}
			}
			if !ok {
				break
			}
			row := make([]string, len(names))
			for i, name := range names {
				v, err := cur.GetObject(name)
				if err != nil {
					row[i] = "?"
					continue
				}
				row[i] = fmt.Sprint(v)
			}
			rows = append(rows, row)
		}
		return queryResultMsg{columns: names, rows: rows}
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case queryResultMsg:
		m.err = msg.err
		if msg.err == nil {
			m.columns = msg.columns
			m.rows = msg.rows
			m.cursor = 0
		}
		return m, nil

	case copiedMsg:
		m.err = msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		sql := strings.TrimSpace(m.input)
		if sql == "" {
			return m, nil
		}
		return m, runQuery(m.conn, sql)

	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
		return m, nil

	case "ctrl+y":
		if m.cursor >= 0 && m.cursor < len(m.rows) {
			return m, copyRow(m.columns, m.rows[m.cursor])
		}
		return m, nil

	default:
		if len(msg.Runes) > 0 {
			m.input += string(msg.Runes)
		}
		return m, nil
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("ponysql-shell"))
	b.WriteString("  (enter: run, up/down: scroll, ctrl+y: copy row, esc: quit)\n\n")
	b.WriteString("> ")
	b.WriteString(highlight.SQL(m.input))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}

	if len(m.columns) == 0 {
		b.WriteString(dimStyle.Render("no results yet"))
		return b.String()
	}

	b.WriteString(headerStyle.Render(strings.Join(m.columns, "  |  ")))
	b.WriteString("\n")
	for i, row := range m.rows {
		line := strings.Join(row, "  |  ")
		if i == m.cursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
