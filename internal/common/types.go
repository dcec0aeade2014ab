package common

// Logger is the logging interface shared by all certificate manager
// components. It decouples the components from the concrete zerolog
// implementation in internal/alogger.
type Logger interface {
	// Errorf uses fmt.Sprintf to log a formatted message.
	Errorf(format string, args ...interface{})

	// Errorw logs a message with some additional context. The variadic
	// key-value pairs are treated as they are in With.
	Errorw(msg string, keysAndValues ...interface{})

	// Warnf uses fmt.Sprintf to log a formatted message.
	Warnf(format string, args ...interface{})

	// Warnw logs a message with some additional context.
	Warnw(msg string, keysAndValues ...interface{})

	// Infof uses fmt.Sprintf to log a formatted message.
	Infof(format string, args ...interface{})

	// Infow logs a message with some additional context.
	Infow(msg string, keysAndValues ...interface{})

	// Debugf uses fmt.Sprintf to log a formatted message.
	Debugf(format string, args ...interface{})

	// Debugw logs a message with some additional context.
	Debugw(msg string, keysAndValues ...interface{})

	// With adds a variadic number of key-value pairs to the logging
	// context and returns the derived logger.
	With(keysAndValues ...interface{}) Logger
}
