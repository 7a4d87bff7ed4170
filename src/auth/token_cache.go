package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/errs"
)

// tokenResponse holds the fields of an OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

func (t cachedToken) valid(now time.Time) bool {
	return t.accessToken != "" && (t.expiresAt.IsZero() || now.Before(t.expiresAt))
}

// TokenCache caches OAuth2 client-credentials tokens keyed by credential
// identity (client id + token URL). Concurrent callers needing the same
// absent or expired token coalesce onto a single fetch; the cached token is
// authoritative until its declared expiry.
type TokenCache struct {
	httpClient *http.Client
	group      singleflight.Group

	mu     sync.RWMutex
	tokens map[string]cachedToken
}

// NewTokenCache constructs a TokenCache. A nil httpClient falls back to a
// client with a 30s timeout.
func NewTokenCache(httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenCache{
		httpClient: httpClient,
		tokens:     make(map[string]cachedToken),
	}
}

func credentialKey(o *OAuth2Auth) string {
	return o.ClientID + "\x00" + o.TokenURL
}

// AccessToken returns a valid bearer token for the given credentials,
// fetching one from the token endpoint if the cache holds none.
func (c *TokenCache) AccessToken(ctx context.Context, o *OAuth2Auth) (string, error) {
	if err := o.Validate(); err != nil {
		return "", &errs.AuthError{Err: err}
	}
	key := credentialKey(o)

	c.mu.RLock()
	tok, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok && tok.valid(time.Now()) {
		return tok.accessToken, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have refreshed while we queued.
		c.mu.RLock()
		tok, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok && tok.valid(time.Now()) {
			return tok.accessToken, nil
		}

		resp, err := c.fetch(ctx, o)
		if err != nil {
			return "", err
		}
		tok = cachedToken{accessToken: resp.AccessToken}
		if resp.ExpiresIn > 0 {
			tok.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		}
		c.mu.Lock()
		c.tokens[key] = tok
		c.mu.Unlock()
		return tok.accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetch performs the client-credentials flow: credentials in the body first,
// then a Basic-auth header fallback, matching common token endpoint setups.
func (c *TokenCache) fetch(ctx context.Context, o *OAuth2Auth) (*tokenResponse, error) {
	scope := ""
	if o.Scope != nil {
		scope = *o.Scope
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", o.ClientID)
	form.Set("client_secret", o.ClientSecret)
	if scope != "" {
		form.Set("scope", scope)
	}
	if resp, err := c.postForm(ctx, o.TokenURL, form, nil); err == nil {
		return resp, nil
	}

	form2 := url.Values{}
	form2.Set("grant_type", "client_credentials")
	if scope != "" {
		form2.Set("scope", scope)
	}
	basic := [2]string{o.ClientID, o.ClientSecret}
	resp, err := c.postForm(ctx, o.TokenURL, form2, &basic)
	if err != nil {
		return nil, &errs.AuthError{Err: err}
	}
	return resp, nil
}

func (c *TokenCache) postForm(ctx context.Context, tokenURL string, form url.Values, basic *[2]string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic != nil {
		req.SetBasicAuth(basic[0], basic[1])
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := codec.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("access_token not found in token response")
	}
	return &tr, nil
}
