package logger

// Logger is the logging surface every plmgen component receives.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	WithField(key string, value interface{}) Logger
}

// WithError attaches err under the "error" key. A nil error leaves l as is.
func WithError(l Logger, err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// NullLogger discards everything.
type NullLogger struct{}

func (NullLogger) Debug(string) {}
func (NullLogger) Info(string)  {}
func (NullLogger) Warn(string)  {}
func (NullLogger) Error(string) {}
func (NullLogger) Fatal(string) {}
func (NullLogger) WithField(string, interface{}) Logger {
	return NullLogger{}
}

func NewNullLogger() Logger {
	return NullLogger{}
}
