package events

import (
	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes events to a zap logger. Snapshots are high volume and go
// to debug; failures and rejections go to warn.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Publish(e domain.Event) {
	level := zapcore.InfoLevel
	switch e.Type {
	case domain.EventSnapshot, domain.EventFill:
		level = zapcore.DebugLevel
	case domain.EventParamsRejected, domain.EventStalled, domain.EventBatchDropped:
		level = zapcore.WarnLevel
	case domain.EventInvariantViolation:
		level = zapcore.ErrorLevel
	}

	ce := s.logger.Check(level, string(e.Type))
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("session", e.SessionID),
		zap.String("strategy", e.Strategy),
		zap.Int("cycle", e.Cycle),
		zap.String("block", string(e.Block)),
		zap.Float64("mtm", e.MTM),
	}
	if e.Symbol != "" {
		fields = append(fields, zap.String("symbol", e.Symbol), zap.String("side", string(e.Side)), zap.Float64("price", e.Price))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}
	if len(e.Instruments) > 0 {
		fields = append(fields, zap.Int("instruments", len(e.Instruments)))
	}
	ce.Write(fields...)
}
