// Package engine wraps the TiDB SQL parser into a script compiler. A script
// is parsed with the properties it is compiled under, every statement is
// analyzed and restored to canonical SQL, and the result is stored as a
// binary .bsql artifact.
package engine

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" // required to register TiDB parser driver implementations
)

// Engine compiles SQL scripts. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine {
	return &Engine{}
}

// DefaultProperties returns the properties used when a caller sets none.
func (*Engine) DefaultProperties() Properties {
	return DefaultProperties()
}

// Compile parses src and returns the compiled script. name identifies the
// script in errors and in the artifact. Syntax errors and rejected statements
// are reported as *CompileError.
func (e *Engine) Compile(name string, src []byte, props Properties) (*Script, error) {
	s, err := props.settings()
	if err != nil {
		return nil, err
	}

	p := parser.New()
	p.SetSQLMode(s.sqlMode)
	p.EnableWindowFunc(s.windowFunctions)
	p.SetStrictDoubleTypeCheck(s.strictDoubleTypeCheck)

	text := string(src)
	nodes, warns, err := p.Parse(text, s.charset, s.collation)
	if err != nil {
		return nil, syntaxError(name, text, err)
	}

	script := &Script{
		Name:        name,
		Properties:  DefaultProperties().Merge(props),
		Compression: s.compression,
		Statements:  make([]Statement, 0, len(nodes)),
	}
	for _, w := range warns {
		script.Warnings = append(script.Warnings, w.Error())
	}

	cursor := 0
	for _, node := range nodes {
		stmt := newStatement(node, text, &cursor)
		if stmt.Destructive && !s.allowDestructive {
			return nil, &CompileError{
				Name:     name,
				Message:  fmt.Sprintf("%s is not allowed (%s=false): %s", stmt.Kind, PropAllowDestructive, stmt.DestructiveReason),
				Location: locationAt(text, stmt.Offset),
			}
		}
		script.Statements = append(script.Statements, stmt)
	}

	return script, nil
}

// newStatement locates node inside text starting at *cursor and advances the
// cursor past it. Statement texts are handed out by the parser in source order.
func newStatement(node ast.StmtNode, text string, cursor *int) Statement {
	raw := node.Text()
	offset := *cursor
	if i := strings.Index(text[*cursor:], raw); raw != "" && i >= 0 {
		offset += i
		*cursor = offset + len(raw)
	}

	body := skipLeading(raw)
	offset += len(raw) - len(body)
	body = strings.TrimSpace(body)

	return Statement{
		Analysis: Analyze(node, body),
		Text:     body,
		SQL:      restore(node, body),
		Offset:   offset,
		Line:     locationAt(text, offset).Line,
	}
}

// skipLeading drops whitespace and comment lines in front of a statement.
func skipLeading(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			_, rest, ok := strings.Cut(s, "\n")
			if !ok {
				return ""
			}
			s = rest
		case strings.HasPrefix(s, "/*") && !strings.HasPrefix(s, "/*!"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return s
			}
			s = s[end+2:]
		default:
			return s
		}
	}
}

func restore(node ast.StmtNode, fallback string) string {
	var sb strings.Builder
	if err := node.Restore(format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)); err != nil {
		return fallback
	}
	return sb.String()
}
