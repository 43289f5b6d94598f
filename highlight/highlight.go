package highlight

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
)

func init() {
	lexer = lexers.Get("sql")
	formatter = formatters.Get("terminal256")
	style = styles.Get("monokai")
}

// SQL returns the input with ANSI terminal syntax highlighting applied.
// On error or empty input, the original string is returned unchanged.
func SQL(s string) string {
	if s == "" {
		return s
	}

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimRight(buf.String(), "\n")
}

var (
	// nodeRe matches the one node shape ponyserver's stub planner ever
	// emits: a full scan of a named table. There is no join/sort/index
	// vocabulary to recognise because there is no optimizer behind it.
	nodeRe = regexp.MustCompile(`(?i)^\s*scan\b.*$`)
	// metricsRe matches the "key: value" annotation lines the stub
	// planner appends under a scan node (column list, row count, and,
	// for EXPLAIN ANALYZE, an actual-time line).
	metricsRe = regexp.MustCompile(`(?i)^\s*(columns|rows|actual time):.*$`)

	boldStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Plan returns EXPLAIN/EXPLAIN ANALYZE output with ANSI highlighting
// applied: the scan line is bold, its indented row/column/timing
// annotations are dim. Unrecognised lines pass through unchanged.
func Plan(s string) string {
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		switch {
		case nodeRe.MatchString(line):
			lines[i] = boldStyle.Render(line)
		case metricsRe.MatchString(line):
			lines[i] = dimStyle.Render(line)
		}
	}

	return strings.Join(lines, "\n")
}
