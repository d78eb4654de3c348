package output

import (
	"fmt"
	"strings"

	"bsqlc/internal/compiler"
	"bsqlc/internal/engine"
)

type humanFormatter struct{}

// FormatScript formats a compiled script as a readable listing.
// Example output:
//
//	Script:      db/init.sql
//	Statements:  2 (1 destructive)
//	Transaction: unsafe
//
//	  1  line 1    CREATE TABLE   [implicit commit]
//	       CREATE TABLE `users` (`id` INT PRIMARY KEY);
//	  2  line 4    DROP TABLE     [destructive, implicit commit]
//	       DROP TABLE `old_users`;
func (humanFormatter) FormatScript(s *engine.Script) (string, error) {
	if s == nil {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Script:      %s\n", s.Name)
	fmt.Fprintf(&sb, "Statements:  %d (%d destructive)\n", len(s.Statements), len(s.Destructive()))
	if s.TransactionSafe() {
		sb.WriteString("Transaction: safe\n")
	} else {
		sb.WriteString("Transaction: unsafe\n")
	}
	fmt.Fprintf(&sb, "Compression: %s\n", s.Compression)

	if len(s.Properties) > 0 {
		sb.WriteString("\nProperties:\n")
		for _, k := range s.Properties.Keys() {
			fmt.Fprintf(&sb, "  %s = %s\n", k, s.Properties[k])
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintf(&sb, "\nWarnings: %d\n", len(s.Warnings))
		for _, w := range s.Warnings {
			fmt.Fprintf(&sb, "   - %s\n", w)
		}
	}

	if len(s.Statements) > 0 {
		sb.WriteString("\n")
	}
	for i, st := range s.Statements {
		fmt.Fprintf(&sb, "%3d  line %-4d %-15s", i+1, st.Line, st.Kind)
		if flags := statementFlags(st); flags != "" {
			fmt.Fprintf(&sb, "[%s]", flags)
		}
		sb.WriteString("\n")
		for _, line := range strings.Split(normalizeStatement(st.SQL), "\n") {
			fmt.Fprintf(&sb, "       %s\n", line)
		}
	}

	return sb.String(), nil
}

func statementFlags(st engine.Statement) string {
	var flags []string
	if st.Destructive {
		flags = append(flags, "destructive")
	}
	if st.Blocking {
		flags = append(flags, "blocking")
	}
	if !st.TransactionSafe {
		flags = append(flags, "implicit commit")
	}
	return strings.Join(flags, ", ")
}

// FormatSummary formats a run report.
func (humanFormatter) FormatSummary(s *compiler.Summary) (string, error) {
	if s == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Compilation Summary\n")
	sb.WriteString("===================\n\n")
	fmt.Fprintf(&sb, "Input:      %s\n", s.InputDir)
	fmt.Fprintf(&sb, "Output:     %s\n", s.OutputDir)
	fmt.Fprintf(&sb, "Discovered: %d\n", s.Discovered)
	fmt.Fprintf(&sb, "Changed:    %d\n", s.Changed)
	fmt.Fprintf(&sb, "Compiled:   %d\n", len(s.Compiled))
	fmt.Fprintf(&sb, "Failed:     %d\n", len(s.Failures))

	if len(s.Failures) > 0 {
		sb.WriteString("\nFailures:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&sb, "  - %s\n", f.Source)
			if f.Location != nil {
				fmt.Fprintf(&sb, "    line %d, column %d\n", f.Location.Line, f.Location.Column)
			}
			fmt.Fprintf(&sb, "    %s\n", f.Message)
		}
	}

	return sb.String(), nil
}
