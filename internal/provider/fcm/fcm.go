// Package fcm implements an FCM-style push provider: a static server key
// presented in a legacy "Authorization: key=..." header, with a JSON
// payload.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pushrelay/dispatcher/internal/provider"
	"github.com/pushrelay/dispatcher/internal/provider/httpretry"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

// Config holds FCM credentials and endpoint.
type Config struct {
	ProjectID string
	ServerKey string
	Endpoint  string // defaults to the legacy FCM send endpoint
	Timeout   time.Duration
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return "https://fcm.googleapis.com/fcm/send"
}

// Provider sends push notifications via an FCM-style JSON API.
type Provider struct {
	cfg        Config
	httpClient *http.Client
}

// New creates an FCM provider.
func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Platform returns "FCM".
func (p *Provider) Platform() string {
	return "FCM"
}

type fcmMessage struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int              `json:"success"`
	Failure int              `json:"failure"`
	Results []fcmResultEntry `json:"results"`
}

type fcmResultEntry struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send POSTs a JSON message to the FCM send endpoint. encoding/json
// escapes all string fields, preventing payload injection from
// caller-supplied title/body/data.
func (p *Provider) Send(ctx context.Context, token, title, body string, data map[string]string) provider.Result {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "fcm_send",
		"provider":  "FCM",
	})

	msg := fcmMessage{
		To:           token,
		Notification: fcmNotification{Title: title, Body: body},
		Data:         data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return provider.Fail(fmt.Sprintf("failed to marshal payload: %v", err), "FCM_MARSHAL", provider.CategoryInvalidPayload)
	}

	resp, err := httpretry.Do(ctx, p.httpClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.endpoint(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "key="+p.cfg.ServerKey)
		return req, nil
	})
	if err != nil {
		logger.WithField("error", err.Error()).Warn("FCM transport error")
		return provider.Fail(fmt.Sprintf("request failed: %v", err), "FCM_TRANSPORT", provider.CategoryNetworkError)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed fcmResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Failure > 0 && len(parsed.Results) > 0 {
			errMsg := parsed.Results[0].Error
			result := provider.Fail(fmt.Sprintf("FCM rejected message: %s", errMsg), "FCM_"+errMsg, mapFCMError(errMsg))
			result.ResponseBody = respBody
			return result
		}
		return provider.Ok()
	}

	category := provider.MapHTTPStatus(resp.StatusCode)
	result := provider.Fail(
		fmt.Sprintf("FCM returned status %d: %s", resp.StatusCode, string(respBody)),
		fmt.Sprintf("FCM_%d", resp.StatusCode),
		category,
	)
	result.ResponseBody = respBody
	return result
}

// mapFCMError maps FCM's per-message error strings to our taxonomy.
func mapFCMError(errMsg string) provider.FailureCategory {
	switch errMsg {
	case "NotRegistered", "InvalidRegistration":
		return provider.CategoryInvalidToken
	case "MessageTooBig", "InvalidDataKey", "InvalidTtl":
		return provider.CategoryInvalidPayload
	case "Unavailable", "InternalServerError":
		return provider.CategoryServiceUnavailable
	default:
		return provider.CategoryUnknown
	}
}
