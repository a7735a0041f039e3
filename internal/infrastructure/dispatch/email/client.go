// Package email delivers the email channel through an HTTP mail relay.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

// RecipientResolver maps an owner id to a mailbox.
type RecipientResolver func(ctx context.Context, ownerID string) (string, error)

type Client struct {
	baseURL    string
	from       string
	resolve    RecipientResolver
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	From               string
	Timeout            time.Duration
	Resolver           RecipientResolver
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	resolve := options.Resolver
	if resolve == nil {
		resolve = func(_ context.Context, ownerID string) (string, error) { return ownerID, nil }
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		from:       options.From,
		resolve:    resolve,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	// Reference lets the relay drop duplicates of the same reminder.
	Reference string `json:"reference"`
}

type relayResponse struct {
	ID string `json:"id"`
}

func (c *Client) Send(ctx context.Context, n domain.Notification) error {
	to, err := c.resolve(ctx, n.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if strings.TrimSpace(to) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "email send", fmt.Errorf("no recipient for owner %s", n.OwnerID))
	}

	msg := buildMessage(c.from, to, n)
	call := func(ctx context.Context) error {
		var out relayResponse
		return c.postJSON(ctx, "/v1/messages", msg, &out, "send")
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, "email.send", call, classifyRelayError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded("email send", err)
}

func buildMessage(from, to string, n domain.Notification) message {
	subject := fmt.Sprintf("Reminder: %s", n.DocumentName)
	text := fmt.Sprintf("Your document %q", n.DocumentName)
	if n.ExpirationDate.IsZero() {
		text += " needs your attention."
	} else {
		text += fmt.Sprintf(" expires on %s.", n.ExpirationDate)
	}
	return message{
		From:      from,
		To:        to,
		Subject:   subject,
		Text:      text,
		Reference: "reminder-" + n.ReminderID,
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
