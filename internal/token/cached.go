package token

import (
	"sync"
	"time"
)

// renewSkew renews slightly before exp so an in-flight request never carries
// a token that expires mid-call.
const renewSkew = 30 * time.Second

// CachedIssuer reuses the last-issued service token until the wall clock
// reaches its cached expiry. One slot per issuer instance; invalidation is
// time-based only, never by use count.
type CachedIssuer struct {
	serviceName string
	secret      []byte
	ttl         time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewCachedIssuer creates an issuer for serviceName with the given token TTL.
func NewCachedIssuer(serviceName string, secret []byte, ttl time.Duration) *CachedIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedIssuer{serviceName: serviceName, secret: secret, ttl: ttl}
}

// Token returns the cached token, re-signing only when the slot has expired.
func (c *CachedIssuer) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt.Add(-renewSkew)) {
		return c.token, nil
	}

	tok, err := IssueServiceToken(c.serviceName, c.secret, nil, IssueOptions{TTL: c.ttl})
	if err != nil {
		return "", err
	}
	c.token = tok
	c.expiresAt = time.Now().Add(c.ttl)
	return tok, nil
}
