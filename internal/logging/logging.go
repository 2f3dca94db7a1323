// Package logging builds the charmbracelet loggers shared by the daemon, the
// CLI and the engine.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at the named level. DEBUG=1 forces debug
// level with caller and timestamp reporting.
func New(w io.Writer, level string) *log.Logger {
	if os.Getenv("DEBUG") == "1" {
		l := log.NewWithOptions(w, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			Prefix:          "voicememo",
		})
		l.SetLevel(log.DebugLevel)
		return l
	}

	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "voicememo",
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a config string to a level, falling back to info.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything. Components use it when no
// logger is injected.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
