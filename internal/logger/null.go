package logger

// NullLogger discards everything, it is the default of every component.
type NullLogger struct{}

var _ Logger = NullLogger{}

func (NullLogger) Successf(string, ...interface{}) {}

func (NullLogger) Debugf(string, ...interface{}) {}

func (NullLogger) SQL(string, ...interface{}) {}

func (NullLogger) Error(error) {}
