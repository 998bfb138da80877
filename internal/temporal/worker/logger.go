package worker

import (
	"github.com/flexprice/usagemeter/internal/logger"
	"go.temporal.io/sdk/log"
)

// loggerAdapter routes temporal sdk logs through the service logger
type loggerAdapter struct {
	log *logger.Logger
}

var _ log.Logger = (*loggerAdapter)(nil)

func newLoggerAdapter(l *logger.Logger) *loggerAdapter {
	return &loggerAdapter{log: l}
}

func (a *loggerAdapter) Debug(msg string, keyvals ...interface{}) { a.log.Debugw(msg, keyvals...) }
func (a *loggerAdapter) Info(msg string, keyvals ...interface{})  { a.log.Infow(msg, keyvals...) }
func (a *loggerAdapter) Warn(msg string, keyvals ...interface{})  { a.log.Warnw(msg, keyvals...) }
func (a *loggerAdapter) Error(msg string, keyvals ...interface{}) { a.log.Errorw(msg, keyvals...) }
