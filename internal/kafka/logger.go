package kafka

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/flexprice/usagemeter/internal/logger"
)

// loggerAdapter routes watermill logs through the service logger
type loggerAdapter struct {
	log    *logger.Logger
	fields watermill.LogFields
}

func NewLoggerAdapter(log *logger.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log: log}
}

func (a *loggerAdapter) keyvals(fields watermill.LogFields) []interface{} {
	merged := a.fields.Add(fields)
	kv := make([]interface{}, 0, len(merged)*2)
	for k, v := range merged {
		kv = append(kv, k, v)
	}
	return kv
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Errorw(msg, append(a.keyvals(fields), "error", err)...)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Infow(msg, a.keyvals(fields)...)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, a.keyvals(fields)...)
}

// Trace is mapped to debug, zap has no lower level
func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debugw(msg, a.keyvals(fields)...)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{log: a.log, fields: a.fields.Add(fields)}
}
