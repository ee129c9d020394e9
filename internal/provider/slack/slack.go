// Package slack is a minimal webhook-based provider showing how the
// registry extends beyond the two push backends: any transport that can
// express Send and classify its failures plugs in the same way.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pushrelay/dispatcher/internal/provider"
	"github.com/pushrelay/dispatcher/internal/provider/httpretry"
)

// Provider posts a message to a Slack incoming webhook URL. The device
// token field doubles as the webhook URL for this channel.
type Provider struct {
	httpClient *http.Client
}

// New creates a Slack webhook provider.
func New() *Provider {
	return &Provider{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Platform returns "Slack".
func (p *Provider) Platform() string {
	return "Slack"
}

type slackMessage struct {
	Text string `json:"text"`
}

// Send posts title and body as a single text message to the webhook URL
// carried in token.
func (p *Provider) Send(ctx context.Context, webhookURL, title, body string, data map[string]string) provider.Result {
	text := title
	if body != "" {
		text = fmt.Sprintf("%s\n%s", title, body)
	}
	payload, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return provider.Fail(fmt.Sprintf("failed to marshal payload: %v", err), "SLACK_MARSHAL", provider.CategoryInvalidPayload)
	}

	resp, err := httpretry.Do(ctx, p.httpClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return provider.Fail(fmt.Sprintf("request failed: %v", err), "SLACK_TRANSPORT", provider.CategoryNetworkError)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return provider.Ok()
	}
	return provider.Fail(fmt.Sprintf("slack webhook returned status %d", resp.StatusCode), "SLACK_HTTP", provider.MapHTTPStatus(resp.StatusCode))
}
