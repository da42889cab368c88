package internal

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var green = color.New(color.FgGreen).SprintFunc()

// Logger wraps logrus with module-tagged convenience methods so every
// log line carries the module that produced it.
type Logger struct {
	log *logrus.Logger
}

// NewLogger creates a Logger writing to stderr.
func NewLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return Logger{log: l}
}

// SetLevel adjusts the minimum level that gets emitted.
func (l Logger) SetLevel(level logrus.Level) {
	l.log.SetLevel(level)
}

// InfoM logs an informational message tagged with a module name.
func (l Logger) InfoM(msg string, module string) {
	l.log.WithField("module", module).Info(msg)
}

// SuccessM logs a success message tagged with a module name.
func (l Logger) SuccessM(msg string, module string) {
	l.log.WithField("module", module).Info(green(msg))
}

// ErrorM logs an error message tagged with a module name.
func (l Logger) ErrorM(msg string, module string) {
	l.log.WithField("module", module).Error(msg)
}

// DebugM logs a debug message tagged with a module name.
func (l Logger) DebugM(msg string, module string) {
	l.log.WithField("module", module).Debug(msg)
}

// FatalM logs a fatal message tagged with a module name and exits.
func (l Logger) FatalM(msg string, module string) {
	l.log.WithField("module", module).Fatal(msg)
}

// InfoMf is InfoM with formatting.
func (l Logger) InfoMf(module string, format string, args ...interface{}) {
	l.InfoM(fmt.Sprintf(format, args...), module)
}

// ErrorMf is ErrorM with formatting.
func (l Logger) ErrorMf(module string, format string, args ...interface{}) {
	l.ErrorM(fmt.Sprintf(format, args...), module)
}
