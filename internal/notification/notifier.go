// Package notification provides alert delivery to external channels
// (log, Telegram, webhooks) for pattern detections and executions.
package notification

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is always enabled.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("level", string(alert.Level)),
		zap.String("symbol", alert.Symbol),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
	}
	switch alert.Level {
	case AlertCritical:
		n.log.Error("alert", fields...)
	case AlertWarning:
		n.log.Warn("alert", fields...)
	default:
		n.log.Info("alert", fields...)
	}
	return nil
}

// Multi fans an alert out to every backend. Every backend is tried; the
// first failure is returned.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, alert); err != nil && first == nil {
			first = errors.Wrap(err, "notify")
		}
	}
	return first
}
