package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of delivering them. It is
// used when no mail relay is configured.
type LogSender struct {
	lg *zap.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(lg *zap.Logger) *LogSender {
	return &LogSender{lg: lg}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.lg.Info("Notification",
		zap.String("event", string(msg.Event)),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}
