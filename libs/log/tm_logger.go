package log

import (
	"fmt"
	"io"

	kitlog "github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
	"github.com/go-kit/log/term"
)

const (
	msgKey    = "_msg" // "_" prefixed to avoid collisions
	moduleKey = "module"
	levelKey  = "level"

	// LogFormatPlain is the human readable output produced by NewTMLogger.
	LogFormatPlain = "plain"
	// LogFormatJSON is the output produced by NewTMJSONLogger.
	LogFormatJSON = "json"
)

type tmLogger struct {
	srcLogger kitlog.Logger
}

// Interface assertions
var _ Logger = (*tmLogger)(nil)

// NewTMLogger returns a logger that encodes msg and keyvals to the Writer
// using go-kit's log as an underlying logger and our custom formatter. Note
// that underlying logger could be swapped with something else.
func NewTMLogger(w io.Writer) Logger {
	return NewTMLoggerWithColorFn(w, levelColor)
}

// NewTMLoggerWithColorFn allows you to provide your own color function. See
// NewTMLogger for documentation.
func NewTMLoggerWithColorFn(w io.Writer, colorFn func(keyvals ...interface{}) term.FgBgColor) Logger {
	return &tmLogger{term.NewLogger(w, NewTMFmtLogger, colorFn)}
}

// NewTMJSONLogger returns a Logger that encodes keyvals to the Writer as a
// single JSON object per event.
func NewTMJSONLogger(w io.Writer) Logger {
	return &tmLogger{kitlog.NewJSONLogger(w)}
}

// NewLoggerWithFormat returns a plain or JSON logger depending on format.
func NewLoggerWithFormat(w io.Writer, format string) (Logger, error) {
	switch format {
	case "", LogFormatPlain:
		return NewTMLogger(w), nil
	case LogFormatJSON:
		return NewTMJSONLogger(w), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q, expected %q or %q", format, LogFormatPlain, LogFormatJSON)
	}
}

// levelColor paints errors red and debug/trace lines gray. Unknown keys never
// panic, they get the terminal default.
func levelColor(keyvals ...interface{}) term.FgBgColor {
	if len(keyvals) < 2 {
		return term.FgBgColor{}
	}

	var levelStr string
	switch keyvals[0] {
	case levelKey:
		s, ok := keyvals[1].(string)
		if !ok {
			return term.FgBgColor{}
		}
		levelStr = s
	case kitlevel.Key():
		s, ok := keyvals[1].(fmt.Stringer)
		if !ok {
			return term.FgBgColor{}
		}
		levelStr = s.String()
	default:
		return term.FgBgColor{}
	}

	switch levelStr {
	case "trace":
		return term.FgBgColor{Fg: term.DarkGray}
	case "debug":
		return term.FgBgColor{Fg: term.Gray}
	case "error":
		return term.FgBgColor{Fg: term.Red}
	default:
		return term.FgBgColor{}
	}
}

// Trace logs a message at level Trace.
func (l *tmLogger) Trace(msg string, keyvals ...interface{}) {
	l.log(kitlog.WithPrefix(l.srcLogger, levelKey, "trace"), msg, keyvals)
}

// Debug logs a message at level Debug.
func (l *tmLogger) Debug(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Debug(l.srcLogger), msg, keyvals)
}

// Info logs a message at level Info.
func (l *tmLogger) Info(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Info(l.srcLogger), msg, keyvals)
}

// Error logs a message at level Error.
func (l *tmLogger) Error(msg string, keyvals ...interface{}) {
	l.log(kitlevel.Error(l.srcLogger), msg, keyvals)
}

// With returns a new contextual logger with keyvals prepended to those passed
// to calls to Trace, Info, Debug or Error.
func (l *tmLogger) With(keyvals ...interface{}) Logger {
	return &tmLogger{kitlog.With(l.srcLogger, keyvals...)}
}

func (l *tmLogger) log(leveled kitlog.Logger, msg string, keyvals []interface{}) {
	if err := kitlog.With(leveled, msgKey, msg).Log(keyvals...); err != nil {
		errLogger := kitlevel.Error(l.srcLogger)
		kitlog.With(errLogger, msgKey, msg).Log("err", err) //nolint:errcheck // no need to check error again
	}
}
