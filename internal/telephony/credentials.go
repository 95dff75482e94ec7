package telephony

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// AccessCredential is a short-lived token minted by the backend for device
// registration or widget initialization.
type AccessCredential struct {
	Token string `json:"token"`
	// WebSocketURL is set for device credentials; push events for the
	// registered device are delivered there.
	WebSocketURL string    `json:"websocket_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// credentialSource fetches a credential from a backend endpoint.
type credentialSource interface {
	Fetch(ctx context.Context, userID string) (AccessCredential, error)
}

type httpCredentialSource struct {
	client *backendClient
	path   string
}

func (s *httpCredentialSource) Fetch(ctx context.Context, userID string) (AccessCredential, error) {
	var cred AccessCredential
	err := s.client.postJSON(ctx, s.path, map[string]string{"user_id": userID}, &cred)
	if err != nil {
		return AccessCredential{}, err
	}
	if cred.Token == "" {
		return AccessCredential{}, &ProviderRequestError{Endpoint: s.path, Err: fmt.Errorf("credential response missing token")}
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = tokenExpiry(cred.Token)
	}
	return cred, nil
}

// tokenExpiry extracts exp from a JWT without verifying the signature.
// Tokens are verified by the backend that consumes them; the client only
// needs the expiry to size its cache TTL. A token that does not parse is
// treated as already expired so it is never cached.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// CredentialCache caches short-lived credentials in redis, keyed per user
// and kind, with a TTL derived from the token expiry minus a safety margin.
// A nil client degrades to cache-aside pass-through.
type CredentialCache struct {
	rdb    *redis.Client
	source credentialSource
	kind   string
	clock  func() time.Time

	// margin is subtracted from the token lifetime so a cached credential
	// is never handed out moments before it expires.
	margin time.Duration
}

// NewDeviceCredentialCache builds the redis-backed cache for device
// registration credentials.
func NewDeviceCredentialCache(rdb *redis.Client, cfg DeviceProviderConfig) *CredentialCache {
	cfg = cfg.withDefaults()
	client := newBackendClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
	return NewCredentialCache(rdb, &httpCredentialSource{client: client, path: "/v1/device/credential"}, "device")
}

// NewWidgetCredentialCache builds the redis-backed cache for widget
// initialization credentials used by the callback provider.
func NewWidgetCredentialCache(rdb *redis.Client, cfg CallbackProviderConfig) *CredentialCache {
	cfg = cfg.withDefaults()
	client := newBackendClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout)
	return NewCredentialCache(rdb, &httpCredentialSource{client: client, path: "/v1/widget/credential"}, "widget")
}

func NewCredentialCache(rdb *redis.Client, source credentialSource, kind string) *CredentialCache {
	return &CredentialCache{
		rdb:    rdb,
		source: source,
		kind:   kind,
		clock:  time.Now,
		margin: 30 * time.Second,
	}
}

func (c *CredentialCache) key(userID string) string {
	return "telephony:cred:" + c.kind + ":" + userID
}

// Get returns a cached credential or fetches a fresh one. Cache failures
// are absorbed; the source is the authority.
func (c *CredentialCache) Get(ctx context.Context, userID string) (AccessCredential, error) {
	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, c.key(userID)).Result(); err == nil && raw != "" {
			if cred, ok := decodeCredential(raw); ok && cred.ExpiresAt.After(c.clock().Add(c.margin)) {
				return cred, nil
			}
		}
	}

	cred, err := c.source.Fetch(ctx, userID)
	if err != nil {
		return AccessCredential{}, err
	}

	if c.rdb != nil {
		ttl := cred.ExpiresAt.Sub(c.clock()) - c.margin
		if ttl > 0 {
			_ = c.rdb.Set(ctx, c.key(userID), encodeCredential(cred), ttl).Err()
		}
	}
	return cred, nil
}

// Invalidate drops the cached credential, forcing a fresh fetch. Used when
// the backend rejects a token before its nominal expiry.
func (c *CredentialCache) Invalidate(ctx context.Context, userID string) {
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, c.key(userID)).Err()
	}
}

func encodeCredential(cred AccessCredential) string {
	// token|wsURL|unix-expiry; JWTs and URLs never contain '|'.
	return fmt.Sprintf("%s|%s|%d", cred.Token, cred.WebSocketURL, cred.ExpiresAt.Unix())
}

func decodeCredential(raw string) (AccessCredential, bool) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 || parts[0] == "" {
		return AccessCredential{}, false
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return AccessCredential{}, false
	}
	return AccessCredential{Token: parts[0], WebSocketURL: parts[1], ExpiresAt: time.Unix(exp, 0).UTC()}, true
}
