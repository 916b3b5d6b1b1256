package logx

import "fmt"

// defaultLogger is the process-wide logger instance.
var defaultLogger *Logger

func init() {
	defaultLogger = NewLoggerFromEnv()
}

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(logger *Logger) { defaultLogger = logger }

// GetDefaultLogger returns the process-wide logger.
func GetDefaultLogger() *Logger { return defaultLogger }

// SetLevel sets the level of the default logger.
func SetLevel(level Level) { defaultLogger.SetLevel(level) }

func Debug(msg string) { defaultLogger.log(LevelDebug, msg, nil) }
func Info(msg string)  { defaultLogger.log(LevelInfo, msg, nil) }
func Warn(msg string)  { defaultLogger.log(LevelWarn, msg, nil) }
func Error(msg string) { defaultLogger.log(LevelError, msg, nil) }

// Fatal logs at fatal level and exits.
func Fatal(msg string) {
	defaultLogger.log(LevelFatal, msg, nil)
	defaultLogger.exitFunc(1)
}

func Debugf(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

func Infof(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.log(LevelError, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits.
func Fatalf(format string, args ...interface{}) {
	defaultLogger.log(LevelFatal, fmt.Sprintf(format, args...), nil)
	defaultLogger.exitFunc(1)
}

// WithField starts an entry on the default logger.
func WithField(key string, value interface{}) *Entry {
	return defaultLogger.WithField(key, value)
}

// WithFields starts an entry on the default logger.
func WithFields(fields Fields) *Entry { return defaultLogger.WithFields(fields) }

// WithError starts an entry on the default logger.
func WithError(err error) *Entry { return defaultLogger.WithError(err) }
