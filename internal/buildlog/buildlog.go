// Package buildlog provides the logging session for a build run. A session is
// acquired with Start and released with End; the logger travels through
// context.Context so the compiler never touches global logging state.
package buildlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type key struct{}

var loggerKey = key{}

// Options configures a session.
type Options struct {
	Level slog.Level
	Color bool
}

// Session owns the output of one build run.
type Session struct {
	state  *sessionState
	logger *slog.Logger
}

type sessionState struct {
	mu     sync.Mutex
	w      io.Writer
	ended  bool
	level  slog.Level
	labels map[slog.Level]string
}

// Start opens a session writing to w and returns a context carrying its
// logger. Callers must defer End.
func Start(ctx context.Context, w io.Writer, opts Options) (context.Context, *Session) {
	st := &sessionState{
		w:      w,
		level:  opts.Level,
		labels: levelLabels(opts.Color),
	}
	s := &Session{
		state:  st,
		logger: slog.New(&consoleHandler{state: st}),
	}
	return WithLogger(ctx, s.logger), s
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// End releases the session. Records logged afterwards are dropped. End is
// safe to call more than once.
func (s *Session) End() error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.state.ended {
		return nil
	}
	s.state.ended = true
	if f, ok := s.state.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from ctx. Without one it returns a logger
// that discards everything.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}
