package output

import (
	"fmt"
	"strings"

	"bsqlc/internal/compiler"
	"bsqlc/internal/engine"
)

type sqlFormatter struct{}

// FormatScript writes the canonical SQL of a compiled script, one statement
// per block, with analysis notes as comments.
func (sqlFormatter) FormatScript(s *engine.Script) (string, error) {
	if s == nil {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "-- bsqlc script %s\n", s.Name)
	if len(s.Statements) == 0 {
		sb.WriteString("\n-- No SQL statements.\n")
		return sb.String(), nil
	}

	for _, st := range s.Statements {
		sb.WriteString("\n")
		if st.Destructive {
			fmt.Fprintf(&sb, "-- DESTRUCTIVE: %s\n", st.DestructiveReason)
		}
		for _, reason := range st.BlockingReasons {
			fmt.Fprintf(&sb, "-- BLOCKING: %s\n", reason)
		}
		sb.WriteString(normalizeStatement(st.SQL))
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// FormatSummary writes a run report as SQL comments.
func (sqlFormatter) FormatSummary(s *compiler.Summary) (string, error) {
	if s == nil {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "-- bsqlc run %s -> %s\n", s.InputDir, s.OutputDir)
	fmt.Fprintf(&sb, "-- compiled %d of %d changed (%d discovered)\n", len(s.Compiled), s.Changed, s.Discovered)
	for _, target := range s.Compiled {
		fmt.Fprintf(&sb, "--   %s\n", target)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&sb, "-- FAILED %s: %s\n", f.Source, strings.ReplaceAll(f.Message, "\n", " "))
	}
	return sb.String(), nil
}
