// Package notification delivers trade alerts to external channels
// (Telegram, webhooks) and to the log.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"signal-grader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Signal and Instrument are set
// for trade alerts.
type Alert struct {
	Level      AlertLevel        `json:"level"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Instrument string            `json:"instrument,omitempty"`
	Signal     *model.Prediction `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// TradeAlert formats a high-confidence prediction for symbol.
func TradeAlert(p model.Prediction, symbol string) Alert {
	return Alert{
		Level: AlertWarning,
		Title: fmt.Sprintf("HIGH CONFIDENCE (%.0f%%)", p.Confidence),
		Message: fmt.Sprintf("SIGNAL: %s %d %s\nEntry: $%.2f\nSL: $%.2f | TP: $%.2f\nRisk: %.2f%%",
			p.Action, p.Size, symbol, p.EntryPrice, p.StopLoss, p.TakeProfit, p.RiskPercent),
		Instrument: symbol,
		Signal:     &p,
	}
}

// ShouldAlert reports whether p is a directional call at or above minConfidence.
func ShouldAlert(p model.Prediction, minConfidence float64) bool {
	return p.Directional() && p.Confidence >= minConfidence
}

// LogNotifier writes alerts to the log. Always available as a fallback.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(l zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: l.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info().Str("level", string(alert.Level)).Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi fans an alert out to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
