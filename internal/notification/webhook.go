package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-grader/internal/model"
)

// webhookPayload is the document POSTed for every alert.
type webhookPayload struct {
	Level      AlertLevel        `json:"level"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Source     string            `json:"source"`
	Instrument string            `json:"instrument,omitempty"`
	Signal     *model.Prediction `json:"signal,omitempty"`
	SentAt     string            `json:"ts"`
}

// WebhookNotifier POSTs alerts as JSON to a single endpoint.
type WebhookNotifier struct {
	url    string
	source string
	poster poster
	now    func() time.Time
	log    zerolog.Logger
}

// NewWebhookNotifier creates a webhook notifier. source names this process
// in the payload.
func NewWebhookNotifier(url, source string, l zerolog.Logger) *WebhookNotifier {
	l = l.With().Str("component", "webhook").Logger()
	return &WebhookNotifier{
		url:    url,
		source: source,
		poster: newPoster("webhook", 0, l),
		now:    time.Now,
		log:    l,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	_, err := w.poster.post(ctx, w.url, webhookPayload{
		Level:      alert.Level,
		Title:      alert.Title,
		Message:    alert.Message,
		Source:     w.source,
		Instrument: alert.Instrument,
		Signal:     alert.Signal,
		SentAt:     w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	w.log.Debug().Str("title", alert.Title).Msg("alert delivered")
	return nil
}
