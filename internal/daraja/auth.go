package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Carey99/RentEase-sub000/pkg/logging"
)

// tokenExpiryBuffer is subtracted from the upstream expiry so a token is
// refreshed before it can expire mid-request.
const tokenExpiryBuffer = 5 * time.Minute

const defaultTokenTTL = 3600 // seconds, per Daraja docs

type tokenEntry struct {
	accessToken string
	expiresAt   time.Time
}

// tokenCache caches OAuth tokens per (consumerKey, environment). It is shared
// by all request handlers; concurrent refreshes for the same key are coalesced
// through singleflight so steady state issues at most one upstream call.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
	group   singleflight.Group
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]tokenEntry)}
}

func cacheKey(creds Credentials) string {
	return creds.ConsumerKey + "|" + creds.Environment
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"` // Daraja returns this as a string
}

// getToken returns a cached token or fetches a fresh one from Daraja.
func (c *Client) getToken(ctx context.Context, creds Credentials) (string, error) {
	key := cacheKey(creds)
	now := c.now()

	c.tokens.mu.Lock()
	entry, ok := c.tokens.entries[key]
	c.tokens.mu.Unlock()
	if ok && now.Add(tokenExpiryBuffer).Before(entry.expiresAt) {
		return entry.accessToken, nil
	}

	token, err, _ := c.tokens.group.Do(key, func() (interface{}, error) {
		// Re-check under singleflight: another caller may have refreshed while
		// this one queued.
		c.tokens.mu.Lock()
		entry, ok := c.tokens.entries[key]
		c.tokens.mu.Unlock()
		if ok && c.now().Add(tokenExpiryBuffer).Before(entry.expiresAt) {
			return entry.accessToken, nil
		}
		return c.fetchToken(ctx, creds, key)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Client) fetchToken(ctx context.Context, creds Credentials, key string) (string, error) {
	url := BaseURL(creds.Environment) + "/oauth/v1/generate?grant_type=client_credentials"
	if c.baseURL != "" {
		url = c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	req.Header.Set("Authorization", "Basic "+BasicAuthToken(creds.ConsumerKey, creds.ConsumerSecret))

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logging.Fields{
			"status":      resp.StatusCode,
			"environment": creds.Environment,
		}).Warn("Daraja OAuth request rejected")
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrAuthFailed, resp.StatusCode, string(body))
	}

	var parsed oauthResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrAuthFailed, err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	ttl := defaultTokenTTL
	if parsed.ExpiresIn != "" {
		if n, err := strconv.Atoi(parsed.ExpiresIn); err == nil && n > 0 {
			ttl = n
		}
	}

	c.tokens.mu.Lock()
	c.tokens.entries[key] = tokenEntry{
		accessToken: parsed.AccessToken,
		expiresAt:   c.now().Add(time.Duration(ttl) * time.Second),
	}
	c.tokens.mu.Unlock()

	return parsed.AccessToken, nil
}

// VerifyCredentials checks that a credential set can obtain an OAuth token.
// Used by the gateway connectivity test.
func (c *Client) VerifyCredentials(ctx context.Context, creds Credentials) error {
	_, err := c.getToken(ctx, creds)
	return err
}

// BasicAuthToken builds the Basic auth payload for the OAuth endpoint.
func BasicAuthToken(consumerKey, consumerSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(consumerKey + ":" + consumerSecret))
}
