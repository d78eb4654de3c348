// Package output provides a set of formatters for compiled scripts and run
// reports. It is extendable and for now provides three formats: human, JSON
// and SQL.
package output

import (
	"fmt"
	"strings"

	"bsqlc/internal/compiler"
	"bsqlc/internal/engine"
)

// Format is an enum type representing the available output formats.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
	FormatSQL   Format = "sql"
)

// Formatter is an interface for formatting compiled scripts and run reports.
type Formatter interface {
	FormatScript(*engine.Script) (string, error)
	FormatSummary(*compiler.Summary) (string, error)
}

// NewFormatter creates a new Formatter instance based on the given name.
// If no format is specified, defaults to human format.
func NewFormatter(name string) (Formatter, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))
	switch format {
	case "", FormatHuman:
		return humanFormatter{}, nil
	case FormatJSON:
		return jsonFormatter{}, nil
	case FormatSQL:
		return sqlFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s; use 'human', 'json', or 'sql'", name)
	}
}

func normalizeStatement(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if stmt != "" && !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt
}
