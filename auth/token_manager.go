// Package auth owns the pCloudy session token: lazy authentication, soft
// expiry tracking, and the single forced re-auth retry after a remote 401.
package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pcloudy-tools/pcloudy-service/envelope"
	"github.com/pcloudy-tools/pcloudy-service/gateway"
	"github.com/pcloudy-tools/pcloudy-service/model"
)

// DefaultRefreshThreshold is the client-side soft expiry for a token. The
// server is the true authority; see WithRetry for the 401 fallback.
const DefaultRefreshThreshold = time.Hour

type ErrorKind int

const (
	ErrMissingCredential ErrorKind = iota + 1
	ErrNoToken
	ErrUnauthorized
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// TokenManager is the only owner of the Session. Callers never mutate it;
// they either read a fresh one via EnsureValid or run an operation through
// WithRetry.
type TokenManager struct {
	cred      model.Credential
	baseURL   string
	gw        gateway.Gateway
	threshold time.Duration
	now       func() time.Time

	mu      sync.Mutex
	session model.Session
}

type Option func(*TokenManager)

// WithClock injects a time source so tests can control freshness.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) { m.now = now }
}

func WithRefreshThreshold(d time.Duration) Option {
	return func(m *TokenManager) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// WithSeedToken primes the manager with an externally supplied token
// (PCLOUDY_AUTH_TOKEN). It is treated as freshly issued.
func WithSeedToken(token string) Option {
	return func(m *TokenManager) {
		if token != "" {
			m.session = model.Session{Token: token, IssuedAt: m.now()}
		}
	}
}

func NewTokenManager(cred model.Credential, baseURL string, gw gateway.Gateway, opts ...Option) *TokenManager {
	m := &TokenManager{
		cred:      cred,
		baseURL:   baseURL,
		gw:        gw,
		threshold: DefaultRefreshThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate unconditionally contacts the access endpoint and replaces the
// stored session on success.
func (m *TokenManager) Authenticate(ctx context.Context) (model.Session, error) {
	if !m.cred.Complete() {
		log.Error("PCLOUDY_USERNAME or PCLOUDY_API_KEY not set")
		return model.Session{}, &Error{Kind: ErrMissingCredential, Message: "PCLOUDY_USERNAME or PCLOUDY_API_KEY not set"}
	}
	log.Info("authenticating with pCloudy")
	resp, err := m.gw.Do(ctx, gateway.Request{
		Method:  http.MethodGet,
		URL:     m.baseURL + "/access",
		Headers: map[string]string{"Authorization": "Basic " + encodeAuth(m.cred.Username, m.cred.APIKey)},
	})
	if err != nil {
		log.Errorf("authentication request failed: %v", err)
		return model.Session{}, err
	}
	result, err := envelope.ParseResult(resp.Body)
	if err != nil {
		log.Errorf("authentication error: %v", err)
		return model.Session{}, err
	}
	token, _ := result["token"].(string)
	if token == "" {
		log.Error("authentication failed: no token received")
		return model.Session{}, &Error{Kind: ErrNoToken, Message: "authentication failed: no token received"}
	}
	s := model.Session{Token: token, IssuedAt: m.now()}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	log.Info("authentication successful")
	return s, nil
}

// EnsureValid returns the current session if it is still fresh, otherwise
// re-authenticates. Concurrent callers hitting a stale session may each
// trigger a refresh; the redundant remote call is harmless and last write
// wins.
func (m *TokenManager) EnsureValid(ctx context.Context) (model.Session, error) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s.Fresh(m.now(), m.threshold) {
		return s, nil
	}
	if s.Token != "" {
		log.Info("token expired, refreshing")
	}
	return m.Authenticate(ctx)
}

// Invalidate drops the session so the next EnsureValid re-authenticates.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.session = model.Session{}
	m.mu.Unlock()
}

// WithRetry runs op with a valid token. If the remote rejects the token with
// 401 despite the client believing it fresh, it forces one re-authenticate
// and re-runs op, at most once. A second 401 surfaces as ErrUnauthorized.
func (m *TokenManager) WithRetry(ctx context.Context, op func(token string) (*gateway.Response, error)) (*gateway.Response, error) {
	s, err := m.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := op(s.Token)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		return resp, nil
	}
	log.Warn("remote rejected token, forcing re-authentication")
	m.Invalidate()
	s, err = m.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = op(s.Token)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, &Error{Kind: ErrUnauthorized, Message: "request unauthorized after re-authentication"}
	}
	return resp, nil
}

func encodeAuth(username, apiKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + apiKey))
}
