package events

import (
	"context"

	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDefault("raffle-events")
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, evt Event) error {
	entry := s.log.WithField("event", evt.Type).WithField("round", evt.Round)
	switch evt.Type {
	case TypeEntrantJoined:
		entry.WithField("identifier", evt.Identifier).WithField("index", evt.Index).Info("entrant joined")
	case TypeUpkeepPerformed:
		entry.WithField("request_id", evt.RequestID).Info("upkeep performed")
	case TypeWinnerPicked:
		entry.WithField("winner", evt.Identifier).WithField("amount", evt.Amount).Info("winner picked")
	case TypePayoutFailed:
		entry.WithField("winner", evt.Identifier).WithField("error", evt.Error).Warn("payout failed")
	default:
		entry.Info("raffle event")
	}
	return nil
}
