package internal

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Writer provides the logging operations that library code needs.
// This allows callers to control where and how output is written, rather than
// forcing library code to use global state like fmt.Print or log.Fatal.
type Writer interface {
	// Printf writes an informational message.
	Printf(format string, v ...interface{})

	// Println writes an informational message built from its operands.
	Println(v ...interface{})

	// Warningf writes a formatted warning message.
	Warningf(format string, v ...interface{})

	// Errorf writes a formatted error message. It never terminates the process.
	Errorf(format string, v ...interface{})

	// WithField returns a Writer that attaches the given field to every message.
	WithField(key string, value interface{}) Writer

	// GetWriter returns the underlying io.Writer for direct writing.
	GetWriter() io.Writer
}

// StandardWriter implements Writer on top of a logrus logger.
type StandardWriter struct {
	entry *logrus.Entry
}

// NewStandardWriter creates a Writer that logs text lines to stderr.
func NewStandardWriter() *StandardWriter {
	return NewCustomWriter(os.Stderr, false)
}

// NewCustomWriter creates a Writer logging to out. Colors are only used when
// colors is true, which callers set when out is a terminal.
func NewCustomWriter(out io.Writer, colors bool) *StandardWriter {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: !colors,
		ForceColors:   colors,
		FullTimestamp: true,
	})

	return &StandardWriter{entry: logrus.NewEntry(logger)}
}

// SetDebug toggles debug level output.
func (w *StandardWriter) SetDebug(debug bool) {
	if debug {
		w.entry.Logger.SetLevel(logrus.DebugLevel)
		return
	}
	w.entry.Logger.SetLevel(logrus.InfoLevel)
}

// Printf writes an informational message.
func (w *StandardWriter) Printf(format string, v ...interface{}) {
	w.entry.Infof(format, v...)
}

// Println writes an informational message.
func (w *StandardWriter) Println(v ...interface{}) {
	w.entry.Infoln(v...)
}

// Warningf writes a warning message.
func (w *StandardWriter) Warningf(format string, v ...interface{}) {
	w.entry.Warnf(format, v...)
}

// Errorf writes an error message.
func (w *StandardWriter) Errorf(format string, v ...interface{}) {
	w.entry.Errorf(format, v...)
}

// WithField returns a child Writer carrying the field.
func (w *StandardWriter) WithField(key string, value interface{}) Writer {
	return &StandardWriter{entry: w.entry.WithField(key, value)}
}

// GetWriter returns the logger's output stream.
func (w *StandardWriter) GetWriter() io.Writer {
	return w.entry.Logger.Out
}
