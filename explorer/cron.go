package explorer

import (
	"github.com/charmbracelet/log"
)

// cronLogger routes scheduler messages to a charmbracelet logger, info messages at debug level.
type cronLogger struct {
	log *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(keysAndValues, "err", err)...)
}
