package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

func SetFormatter(formatter logrus.Formatter) {
	log.SetFormatter(formatter)
}

func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// ParseLevel falls back to info for unknown level names.
func ParseLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

func Debug(msg string, keysAndValues ...any) {
	emit(logrus.DebugLevel, nil, msg, keysAndValues)
}

func Info(msg string, keysAndValues ...any) {
	emit(logrus.InfoLevel, nil, msg, keysAndValues)
}

func Warn(msg string, keysAndValues ...any) {
	emit(logrus.WarnLevel, nil, msg, keysAndValues)
}

func Error(msg string, keysAndValues ...any) {
	emit(logrus.ErrorLevel, nil, msg, keysAndValues)
}

// Logger carries a fixed set of fields, usually the owning component.
type Logger struct {
	fields logrus.Fields
}

func Named(component string) *Logger {
	return &Logger{fields: logrus.Fields{"component": component}}
}

// With returns a copy of l with the extra fields attached.
func (l *Logger) With(keysAndValues ...any) *Logger {
	fields := make(logrus.Fields, len(l.fields)+len(keysAndValues)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range toFields(keysAndValues) {
		fields[k] = v
	}
	return &Logger{fields: fields}
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	emit(logrus.DebugLevel, l.fields, msg, keysAndValues)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	emit(logrus.InfoLevel, l.fields, msg, keysAndValues)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	emit(logrus.WarnLevel, l.fields, msg, keysAndValues)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	emit(logrus.ErrorLevel, l.fields, msg, keysAndValues)
}

func emit(level logrus.Level, base logrus.Fields, msg string, keysAndValues []any) {
	if !log.IsLevelEnabled(level) {
		return
	}

	if len(base) == 0 && len(keysAndValues) == 0 {
		log.Log(level, msg)
		return
	}

	fields := toFields(keysAndValues)
	for k, v := range base {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	log.WithFields(fields).Log(level, msg)
}

func toFields(keysAndValues []any) logrus.Fields {
	fields := make(logrus.Fields)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key, ok := keysAndValues[i].(string)
			if ok {
				fields[key] = keysAndValues[i+1]
			}
		}
	}
	return fields
}
