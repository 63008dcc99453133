// Package logging builds the structured logger shared by every service.
package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// New returns a logger writing to w at the given level. format "json"
// emits one JSON object per line; anything else uses the console writer.
func New(level, format string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	var writer log.Writer
	if format == "json" {
		writer = log.IOWriter{Writer: w}
	} else {
		writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    isTerminal(w),
			QuoteString:    true,
			EndWithMessage: true,
		}
	}

	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *log.Logger {
	return &log.Logger{Level: log.PanicLevel, Writer: log.IOWriter{Writer: io.Discard}}
}

// OrDefault substitutes the package default logger for nil.
func OrDefault(logger *log.Logger) *log.Logger {
	if logger == nil {
		return &log.DefaultLogger
	}
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
