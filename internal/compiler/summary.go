package compiler

import (
	"fmt"

	"bsqlc/internal/engine"
)

// Summary describes the outcome of one run.
type Summary struct {
	InputDir  string `json:"inputDir"`
	OutputDir string `json:"outputDir"`
	// Discovered counts source files found under InputDir.
	Discovered int `json:"discovered"`
	// Changed counts sources that were stale and considered for compilation.
	Changed  int       `json:"changed"`
	Compiled []string  `json:"compiled,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is a script that did not compile.
type Failure struct {
	Source   string           `json:"source"`
	Message  string           `json:"message"`
	Location *engine.Location `json:"location,omitempty"`
}

// OK reports whether every changed script compiled.
func (s *Summary) OK() bool {
	return len(s.Failures) == 0
}

// BuildError is returned when one or more scripts failed to compile and the
// run was otherwise completed.
type BuildError struct {
	Count int
}

func (e *BuildError) Error() string {
	if e.Count == 1 {
		return "There was 1 SQL build error! See above for more details."
	}
	return fmt.Sprintf("There were %d SQL build errors! See above for more details.", e.Count)
}
