// Package notify reports finished capture batches to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BatchSummary counts the outcomes of one executed batch.
type BatchSummary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	FailedIDs []string      `json:"failed_ids,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Message renders the summary as a single line.
func (s BatchSummary) Message() string {
	return fmt.Sprintf("capture batch finished: %d total, %d completed, %d failed, %d skipped in %s",
		s.Total, s.Completed, s.Failed, s.Skipped, s.Duration.Round(time.Second))
}

// payload is the webhook body. "text" lets chat webhooks render it directly.
type payload struct {
	Text  string       `json:"text"`
	Event string       `json:"event"`
	Batch BatchSummary `json:"batch"`
}

// Notifier posts batch summaries. A nil Notifier or one with no endpoint
// is a no-op.
type Notifier struct {
	Endpoint string
	Client   *http.Client
	// Attempts bounds delivery tries on transport errors and 5xx; 0 means 3.
	Attempts int
	// Backoff is the pause before the second try, doubled after each; 0 means 1s.
	Backoff time.Duration
}

func (n *Notifier) BatchFinished(ctx context.Context, s BatchSummary) error {
	if n == nil || n.Endpoint == "" {
		return nil
	}
	body, err := json.Marshal(payload{Text: s.Message(), Event: "batch.finished", Batch: s})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}

	attempts, wait := n.Attempts, n.Backoff
	if attempts <= 0 {
		attempts = 3
	}
	if wait <= 0 {
		wait = time.Second
	}
	for try := 1; ; try++ {
		err = Send(ctx, n.Client, n.Endpoint, "application/json", body)
		var perm *permanentError
		if err == nil || errors.As(err, &perm) || try >= attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// permanentError is a 4xx reply; retrying it cannot help.
type permanentError struct{ status int }

func (e *permanentError) Error() string {
	return fmt.Sprintf("batch notification rejected: status=%d", e.status)
}

// Send POSTs body to endpoint once.
func Send(ctx context.Context, client *http.Client, endpoint, contentType string, body []byte) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("notify: endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &permanentError{status: resp.StatusCode}
	default:
		return fmt.Errorf("batch notification failed: status=%d", resp.StatusCode)
	}
}
