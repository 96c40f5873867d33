package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/httputil"
)

// Webhook POSTs the notification as JSON to a fixed URL
type Webhook struct {
	url    string
	client *httputil.Client
}

// NewWebhook creates a webhook notifier
func NewWebhook(url string, client *httputil.Client) *Webhook {
	return &Webhook{
		url:    url,
		client: client.WithTimeout(10 * time.Second).WithRetry(2, time.Second),
	}
}

// webhookPayload adds a one-line summary for chat-style receivers
type webhookPayload struct {
	contracts.Notification
	Text string `json:"text"`
}

// Notify posts n; a non-2xx answer is an error
func (w *Webhook) Notify(ctx context.Context, n contracts.Notification) error {
	resp, err := w.client.PostJSON(ctx, w.url, webhookPayload{Notification: n, Text: Summary(n)})
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httputil.StatusError{StatusCode: resp.StatusCode, URL: w.url}
	}
	return nil
}

// Summary renders n as one line
func Summary(n contracts.Notification) string {
	slot := n.ScheduledFor.UTC().Format("2006-01-02 15:04")
	if n.Status == contracts.BatchFailed {
		return fmt.Sprintf("❌ ETL %s FAILED after %d attempt(s): %s", slot, n.AttemptCount, n.Error)
	}
	return fmt.Sprintf("✅ ETL %s SUCCEEDED: %d rows across %d partition(s), %d attempt(s)",
		slot, n.RowsWritten, len(n.PartitionsTouched), n.AttemptCount)
}
