package uvfile

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// newLogger returns a zerolog.Logger writing to w (os.Stderr if nil),
// tagged with the "uvfile" component field. Every other file in this
// package logs through a logger derived from this one so the whole
// engine shares one structured-logging surface.
func newLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().Timestamp().Str("component", "uvfile").Logger()
}
