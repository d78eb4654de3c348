package output

import (
	"encoding/json"

	"bsqlc/internal/compiler"
	"bsqlc/internal/engine"
)

type jsonFormatter struct{}

type scriptSummary struct {
	Statements      int  `json:"statements"`
	Destructive     int  `json:"destructive"`
	TransactionSafe bool `json:"transactionSafe"`
}

type scriptPayload struct {
	Format  string         `json:"format"`
	Summary scriptSummary  `json:"summary"`
	Script  *engine.Script `json:"script,omitempty"`
}

type runSummary struct {
	Discovered int  `json:"discovered"`
	Changed    int  `json:"changed"`
	Compiled   int  `json:"compiled"`
	Failed     int  `json:"failed"`
	OK         bool `json:"ok"`
}

type runPayload struct {
	Format  string            `json:"format"`
	Summary runSummary        `json:"summary"`
	Run     *compiler.Summary `json:"run,omitempty"`
}

type Payload interface {
	scriptPayload | runPayload
}

func (jsonFormatter) FormatScript(s *engine.Script) (string, error) {
	payload := scriptPayload{Format: string(FormatJSON)}
	if s != nil {
		payload.Script = s
		payload.Summary = scriptSummary{
			Statements:      len(s.Statements),
			Destructive:     len(s.Destructive()),
			TransactionSafe: s.TransactionSafe(),
		}
	}
	return marshalJSON(payload)
}

func (jsonFormatter) FormatSummary(s *compiler.Summary) (string, error) {
	payload := runPayload{Format: string(FormatJSON)}
	if s != nil {
		payload.Run = s
		payload.Summary = runSummary{
			Discovered: s.Discovered,
			Changed:    s.Changed,
			Compiled:   len(s.Compiled),
			Failed:     len(s.Failures),
			OK:         s.OK(),
		}
	}
	return marshalJSON(payload)
}

func marshalJSON[T Payload](payload T) (string, error) {
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
