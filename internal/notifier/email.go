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

// emailMessage is the transactional-email API payload.
type emailMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// apiError carries the provider's failure body for log context.
type apiError struct {
	Message string `json:"message"`
}

// EmailOptions configures the email channel.
type EmailOptions struct {
	// APIURL is the provider's message endpoint.
	APIURL string

	// APIKey authenticates as a bearer token.
	APIKey string

	From       string
	To         []string
	IncludeNew bool
}

// Email delivers change reports through a transactional-email HTTP API.
type Email struct {
	sling *sling.Sling
	opts  EmailOptions
}

// NewEmail builds an email notifier.
func NewEmail(opts EmailOptions) *Email {
	client := &http.Client{Timeout: 30 * time.Second}
	base := sling.New().Client(client).
		Set("Authorization", "Bearer "+opts.APIKey).
		Set("User-Agent", "seia-monitor")
	return &Email{sling: base, opts: opts}
}

// Name implements Notifier.
func (e *Email) Name() string { return "email" }

// Notify sends one message per change set. Empty change sets are skipped.
func (e *Email) Notify(ctx context.Context, cs *project.ChangeSet) error {
	body := FormatBody(cs, FormatOptions{IncludeNew: e.opts.IncludeNew})
	if body == "" {
		return nil
	}

	return e.send(ctx, Subject(cs), body)
}

// Alert sends an operational alert message.
func (e *Email) Alert(ctx context.Context, subject, body string) error {
	return e.send(ctx, subject, body)
}

func (e *Email) send(ctx context.Context, subject, body string) error {
	msg := &emailMessage{
		From:    e.opts.From,
		To:      e.opts.To,
		Subject: subject,
		Text:    body,
	}

	req, err := e.sling.New().Post(e.opts.APIURL).BodyJSON(msg).Request()
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}

	var failure apiError
	resp, err := e.sling.Do(req.WithContext(ctx), nil, &failure)
	if err != nil {
		return fmt.Errorf("email delivery failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if failure.Message != "" {
			return fmt.Errorf("email API returned %s: %s", resp.Status, failure.Message)
		}
		return errors.New("email API returned status " + resp.Status)
	}
	return nil
}
