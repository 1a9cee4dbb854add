package gateway

import (
	"io"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
)

var logger *golog.Logger

// SetLogger overrides the log writer and level for this package.
func SetLogger(w io.Writer, level log.Level) {
	logger = golog.New(w, level)
}

func init() {
	SetLogger(io.Discard, log.Debug)
}
