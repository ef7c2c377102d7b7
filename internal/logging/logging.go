// Package logging wires the subsystem's structured logger. Every component
// that absorbs an error instead of returning it (per the error-handling
// policy: read paths and partial sync failures stay infallible to the
// caller) logs it here instead, so operators still see what happened.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. Output goes to stderr so stdout stays free
// for a JSON-RPC transport to use as its wire.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, used by
// the synchronizer (and the scanner it drives) and by the watcher.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
