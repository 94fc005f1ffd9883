package config

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger builds the process logger. A nil w writes to stderr; unknown
// levels fall back to info.
func NewLogger(c Log, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.InfoLevel
	}

	formatter := log.TextFormatter
	switch c.Format {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		Prefix:          "reviewflow",
	})
}
