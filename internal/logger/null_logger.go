package logger

import "github.com/sirupsen/logrus"

// NullLogger discards everything. Components fall back to it when no logger
// is injected.
type NullLogger struct{}

func NewNullLogger() Logger {
	return &NullLogger{}
}

func (n *NullLogger) WithFields(map[string]interface{}) Logger { return n }
func (n *NullLogger) WithField(string, interface{}) Logger     { return n }
func (n *NullLogger) WithError(error) Logger                   { return n }
func (n *NullLogger) Debug(...interface{})                     {}
func (n *NullLogger) Info(...interface{})                      {}
func (n *NullLogger) Warn(...interface{})                      {}
func (n *NullLogger) Error(...interface{})                     {}
func (n *NullLogger) Log(logrus.Level, ...interface{})         {}
func (n *NullLogger) Debugf(string, ...interface{})            {}
func (n *NullLogger) Infof(string, ...interface{})             {}
func (n *NullLogger) Warnf(string, ...interface{})             {}
func (n *NullLogger) Errorf(string, ...interface{})            {}

// OrNull returns l, or a NullLogger when l is nil.
func OrNull(l Logger) Logger {
	if l == nil {
		return NewNullLogger()
	}
	return l
}
