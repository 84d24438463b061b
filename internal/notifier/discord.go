package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/italolelis/s3_batcher/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxListedFailures caps how many failed items a summary spells out.
const maxListedFailures = 10

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// NewDiscordNotifier returns a notifier whose HTTP calls are traced.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// FormatBatchSummary renders a batch result as a chat message.
func FormatBatchSummary(operation, bucket string, result *transfer.BatchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%s** on `%s`: %s (%.2f%% success)", operation, bucket, result.String(), result.SuccessRate()*100)

	if result.ID != "" {
		fmt.Fprintf(&b, "\nbatch `%s`", result.ID)
	}

	for i, id := range result.Failed {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "\n... and %d more", len(result.Failed)-maxListedFailures)

			break
		}

		cause := ""
		if i < len(result.Causes) {
			cause = result.Causes[i]
		}

		fmt.Fprintf(&b, "\n- `%s`: %s", id, cause)
	}

	return b.String()
}
