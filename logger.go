package esb

// Logger defines the logging interface for simple string messages.
// Plain strings keep the interface usable from TinyGo builds, where the
// radio loop may run on a microcontroller.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

var globalLogger Logger = &nopLogger{}

// SetLogger sets the logger shared by every engine and transceiver.
// A nil logger silences the package.
func SetLogger(l Logger) {
	if l == nil {
		globalLogger = &nopLogger{}
		return
	}
	globalLogger = l
}

type nopLogger struct{}

func (l *nopLogger) Debug(string) {}
func (l *nopLogger) Info(string)  {}
func (l *nopLogger) Warn(string)  {}
func (l *nopLogger) Error(string) {}
