// Package logging builds the process logger and adapts it for Temporal.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	tlog "go.temporal.io/sdk/log"
)

// New builds a logrus logger writing to stdout.
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stdout, level, format)
}

// NewWithOutput builds a logrus logger writing to w. Format is "text" or
// "json"; level is any logrus level name.
func NewWithOutput(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return l, nil
}

// Temporal adapts a logrus logger to the Temporal SDK logger so workflow and
// activity logs share the process output.
type Temporal struct {
	entry *logrus.Entry
}

var (
	_ tlog.Logger     = (*Temporal)(nil)
	_ tlog.WithLogger = (*Temporal)(nil)
)

// NewTemporal wraps l.
func NewTemporal(l logrus.FieldLogger) *Temporal {
	return &Temporal{entry: l.WithField("component", "temporal")}
}

func (t *Temporal) Debug(msg string, keyvals ...interface{}) {
	t.entry.WithFields(fields(keyvals)).Debug(msg)
}

func (t *Temporal) Info(msg string, keyvals ...interface{}) {
	t.entry.WithFields(fields(keyvals)).Info(msg)
}

func (t *Temporal) Warn(msg string, keyvals ...interface{}) {
	t.entry.WithFields(fields(keyvals)).Warn(msg)
}

func (t *Temporal) Error(msg string, keyvals ...interface{}) {
	t.entry.WithFields(fields(keyvals)).Error(msg)
}

// With returns a logger carrying keyvals on every line.
func (t *Temporal) With(keyvals ...interface{}) tlog.Logger {
	return &Temporal{entry: t.entry.WithFields(fields(keyvals))}
}

// fields pairs up alternating keys and values; a dangling key is kept under
// "extra".
func fields(keyvals []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			f["extra"] = keyvals[i]
			break
		}
		f[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	return f
}
