// Package logging wraps github.com/charmbracelet/log into one process-wide,
// component-tagged logger, used throughout for structured, leveled
// diagnostics instead of the standard library's bare log package.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// For returns a logger tagged with the given component name, e.g.
// logging.For("netmux").Warn("session dropped", "addr", addr).
func For(component string) *log.Logger {
	return root.With("component", component)
}

// SetLevel adjusts the process-wide log level (e.g. from -d debug flags).
func SetLevel(level log.Level) {
	root.SetLevel(level)
}

// Fatal logs at fatal level and exits 1, for configuration and device errors
// that leave the process unable to continue.
func Fatal(component, msg string, args ...interface{}) {
	For(component).Fatal(msg, args...)
}
