package core

// Logger is any service that can log messages of varying severity.
// Extra args may carry an error, a user.User (reported as the affected person)
// or a map[string]interface{} of extra data, depending on the implementation.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
