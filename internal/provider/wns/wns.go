// Package wns implements the Windows push provider: OAuth2
// client-credentials authentication with proactive token refresh, and an
// XML toast payload POSTed to the WNS channel URI.
package wns

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/pushrelay/dispatcher/internal/cache"
	"github.com/pushrelay/dispatcher/internal/provider"
	"github.com/pushrelay/dispatcher/internal/provider/httpretry"
	"github.com/pushrelay/dispatcher/internal/telemetry"
)

// refreshMargin is how far ahead of expiry a cached token is treated as
// stale, so a send never goes out with a token about to lapse mid-flight.
const refreshMargin = 5 * time.Minute

// Config holds WNS credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	TokenURL     string // OAuth2 token endpoint; defaults to the Windows login endpoint for TenantID.
	Timeout      time.Duration
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
}

// Provider sends Windows toast notifications via WNS.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	tokens     *tokenCell
}

// New creates a WNS provider. If redisCache is non-nil, the bearer token
// is shared across dispatcher replicas through it (see tokenCell); a nil
// cache falls back to a process-local guarded cell.
func New(cfg Config, redisCache *cache.Service) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.tokenURL(),
		Scopes:       []string{"https://wns.windows.com/.default"},
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     newTokenCell(oauthCfg, redisCache),
	}
}

// Platform returns "WNS".
func (p *Provider) Platform() string {
	return "WNS"
}

// toastXML is the XML payload WNS expects for a toast notification. Text
// fields are escaped by encoding/xml's Marshal, which prevents payload
// injection from caller-supplied title/body. The data mapping is not
// included in the toast.
type toastXML struct {
	XMLName xml.Name `xml:"toast"`
	Visual  visual   `xml:"visual"`
}

type visual struct {
	Binding binding `xml:"binding"`
}

type binding struct {
	Template string `xml:"template,attr"`
	Text     []text `xml:"text"`
}

type text struct {
	ID      string `xml:"id,attr"`
	Content string `xml:",chardata"`
}

func buildToastPayload(title, body string) ([]byte, error) {
	t := toastXML{
		Visual: visual{
			Binding: binding{
				Template: "ToastGeneric",
				Text: []text{
					{ID: "1", Content: title},
					{ID: "2", Content: body},
				},
			},
		},
	}
	payload, err := xml.Marshal(t)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), payload...), nil
}

// Send POSTs a toast XML payload to the device's channel URI (token).
func (p *Provider) Send(ctx context.Context, channelURI, title, body string, data map[string]string) provider.Result {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "wns_send",
		"provider":  "WNS",
	})

	payload, err := buildToastPayload(title, body)
	if err != nil {
		return provider.Fail(fmt.Sprintf("failed to build toast payload: %v", err), "WNS_MARSHAL", provider.CategoryInvalidPayload)
	}

	accessToken, err := p.tokens.Get(ctx)
	if err != nil {
		logger.WithField("error", err.Error()).Error("failed to acquire WNS bearer token")
		return provider.Fail(fmt.Sprintf("failed to acquire bearer token: %v", err), "WNS_AUTH", provider.CategoryNetworkError)
	}

	resp, err := httpretry.Do(ctx, p.httpClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, channelURI, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml")
		req.Header.Set("X-WNS-Type", "wns/toast")
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req, nil
	})
	if err != nil {
		logger.WithField("error", err.Error()).Warn("WNS transport error")
		return provider.Fail(fmt.Sprintf("request failed: %v", err), "WNS_TRANSPORT", provider.CategoryNetworkError)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return provider.Ok()
	}

	category := provider.MapHTTPStatus(resp.StatusCode)
	result := provider.Fail(
		fmt.Sprintf("WNS returned status %d: %s", resp.StatusCode, string(respBody)),
		fmt.Sprintf("WNS_%d", resp.StatusCode),
		category,
	)
	result.ResponseBody = respBody
	return result
}
