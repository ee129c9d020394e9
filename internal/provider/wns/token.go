package wns

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pushrelay/dispatcher/internal/cache"
)

// redisTokenKey is shared by every dispatcher replica so a replica that
// finds a token there skips minting its own. Replicas that miss the key at
// the same time each mint a token; the first one written is kept.
const redisTokenKey = "wns:bearer_token"

// tokenCell is a guarded cell with a single lifecycle: lazy acquire,
// refresh ahead of expiry, safe under concurrent Send calls. Readers
// observe either the old valid token or the new one, never a
// half-refreshed value, because the refresh happens under mu and only one
// goroutine performs it at a time (the rest block on the same lock and
// then see the fresh token).
type tokenCell struct {
	mu         sync.Mutex
	oauthCfg   *clientcredentials.Config
	cached     *oauth2.Token
	redisCache *cache.Service // optional: shares the token across replicas
}

func newTokenCell(cfg *clientcredentials.Config, redisCache *cache.Service) *tokenCell {
	return &tokenCell{
		oauthCfg:   cfg,
		redisCache: redisCache,
	}
}

// Get returns a valid bearer token, refreshing it if necessary.
func (c *tokenCell) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok := c.valid(); tok != "" {
		return tok, nil
	}

	if c.redisCache != nil {
		if tok, ok := c.fromRedis(ctx); ok {
			return tok, nil
		}
	}

	// Config.Token always mints a new token; the caching TokenSource would
	// keep handing back the old one until it is seconds from expiry.
	tok, err := c.oauthCfg.Token(ctx)
	if err != nil {
		return "", err
	}
	c.cached = tok

	if c.redisCache != nil {
		ttl := time.Until(tok.Expiry) - refreshMargin
		if ttl > 0 {
			_, _ = c.redisCache.SetNX(ctx, redisTokenKey, tok.AccessToken, ttl)
		}
	}

	return tok.AccessToken, nil
}

// valid returns the cached access token if it has more than refreshMargin
// left before expiry, or "" if it must be refreshed.
func (c *tokenCell) valid() string {
	if c.cached == nil {
		return ""
	}
	if time.Until(c.cached.Expiry) <= refreshMargin {
		return ""
	}
	return c.cached.AccessToken
}

// fromRedis consults the shared cache so a replica that just refreshed the
// token doesn't force every other replica to refresh it again. A miss or
// cache error just falls through to a fresh OAuth2 token acquisition; the
// cache is purely an accelerator, never the source of truth.
func (c *tokenCell) fromRedis(ctx context.Context) (string, bool) {
	tok, err := c.redisCache.Get(ctx, redisTokenKey)
	if err != nil || tok == "" {
		return "", false
	}
	return tok, true
}
