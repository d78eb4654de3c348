package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CompileError is returned by Compile when a script cannot be turned into an
// artifact. Location is set when the failure can be pinned to the source.
type CompileError struct {
	Name     string
	Message  string
	Location *Location
	Err      error
}

func (e *CompileError) Error() string {
	return e.Message
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Location points at a position inside a script. Line and Column are 1-based.
type Location struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Near   string `json:"near,omitempty"`
	Source string `json:"source,omitempty"`
}

// Pretty renders the location as the offending source line followed by a
// caret. The parser reports the column at the end of the offending token, so
// the caret goes under the start of Near when it occurs on the line at or
// before that column.
func (l *Location) Pretty() string {
	if l == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "line %d, column %d", l.Line, l.Column)
	if l.Near != "" {
		fmt.Fprintf(&sb, " near %q", l.Near)
	}
	if l.Source == "" {
		return sb.String()
	}

	src := strings.ReplaceAll(l.Source, "\t", " ")
	col := l.Column
	if col < 1 {
		col = 1
	}
	if col > len(src)+1 {
		col = len(src) + 1
	}
	if start := nearStart(src, l.Near, col); start >= 0 {
		col = start + 1
	}
	sb.WriteString("\n    ")
	sb.WriteString(src)
	sb.WriteString("\n    ")
	sb.WriteString(strings.Repeat(" ", col-1))
	sb.WriteString("^")
	return sb.String()
}

// nearStart returns the byte index of the last occurrence of near in src that
// starts before col, or -1.
func nearStart(src, near string, col int) int {
	if near == "" {
		return -1
	}
	start := -1
	for from := 0; from < col-1 && from < len(src); {
		i := strings.Index(src[from:], near)
		if i < 0 || from+i >= col-1 {
			break
		}
		start = from + i
		from = start + 1
	}
	return start
}

// The TiDB scanner reports positions as `line L column C near "..."`.
var parserPosition = regexp.MustCompile(`(?s)line (\d+) column (\d+) near "(.*)"`)

func syntaxError(name, text string, err error) *CompileError {
	ce := &CompileError{
		Name:    name,
		Message: err.Error(),
		Err:     err,
	}

	m := parserPosition.FindStringSubmatch(err.Error())
	if m == nil {
		return ce
	}
	line, _ := strconv.Atoi(m[1])
	col, _ := strconv.Atoi(m[2])
	near, _, _ := strings.Cut(m[3], "\n")

	ce.Location = &Location{
		Line:   line,
		Column: col,
		Near:   strings.TrimSpace(near),
		Source: sourceLine(text, line),
	}
	return ce
}

// locationAt builds a Location for a byte offset into text.
func locationAt(text string, offset int) *Location {
	offset = min(max(offset, 0), len(text))
	before := text[:offset]
	line := strings.Count(before, "\n") + 1
	col := offset - (strings.LastIndex(before, "\n") + 1) + 1
	return &Location{
		Line:   line,
		Column: col,
		Source: sourceLine(text, line),
	}
}

func sourceLine(text string, line int) string {
	lines := strings.Split(text, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}
