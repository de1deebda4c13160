package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/sling"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// webhookBodyLimit keeps cards under the ~28KB payload cap incoming
// webhooks enforce, with headroom for the JSON envelope.
const webhookBodyLimit = 24 * 1024

// messageCard is the connector card payload incoming webhooks accept.
type messageCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	Summary    string `json:"summary"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	ThemeColor string `json:"themeColor,omitempty"`
}

// Webhook posts change reports to an incoming-webhook URL.
type Webhook struct {
	sling      *sling.Sling
	url        string
	includeNew bool
}

// NewWebhook builds a webhook notifier for the given URL.
func NewWebhook(url string, includeNew bool) *Webhook {
	client := &http.Client{Timeout: 15 * time.Second}
	return &Webhook{
		sling:      sling.New().Client(client),
		url:        url,
		includeNew: includeNew,
	}
}

// Name implements Notifier.
func (w *Webhook) Name() string { return "webhook" }

// Notify posts a message card. Empty change sets are skipped.
func (w *Webhook) Notify(ctx context.Context, cs *project.ChangeSet) error {
	body := FormatBody(cs, FormatOptions{IncludeNew: w.includeNew, MaxLength: webhookBodyLimit})
	if body == "" {
		return nil
	}

	return w.post(ctx, &messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    Subject(cs),
		Title:      Subject(cs),
		Text:       body,
		ThemeColor: "2EB886",
	})
}

// Alert posts an operational alert card in warning red.
func (w *Webhook) Alert(ctx context.Context, subject, body string) error {
	return w.post(ctx, &messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    subject,
		Title:      subject,
		Text:       body,
		ThemeColor: "D93025",
	})
}

func (w *Webhook) post(ctx context.Context, card *messageCard) error {
	req, err := w.sling.New().Post(w.url).BodyJSON(card).Request()
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	resp, err := w.sling.Do(req.WithContext(ctx), nil, nil)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New("webhook returned status " + resp.Status)
	}
	return nil
}
