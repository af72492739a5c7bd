package qustodio

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/micro-ha/qustodio-bridge/internal/metrics"
)

// OAuth client credentials as shipped in the Qustodio mobile apps. They are
// not account secrets and may rotate between app releases.
const (
	oauthClientID     = "264ca1d226906aa08b03"
	oauthClientSecret = "3e8826cbed3b996f8b206c7d6a4b2321529bc6bd"
)

const (
	defaultTokenTTL   = 3600 * time.Second
	tokenExpiryMargin = 60 * time.Second
)

// TokenState names the token lifecycle phase for status surfaces.
type TokenState string

const (
	TokenStateNoCredentials   TokenState = "no_credentials"
	TokenStateAuthenticating  TokenState = "authenticating"
	TokenStateAuthenticated   TokenState = "authenticated"
	TokenStateRefreshing      TokenState = "refreshing"
	TokenStateRefreshFailed   TokenState = "refresh_failed"
	TokenStateUnauthenticated TokenState = "unauthenticated"
)

// grantFunc posts an oauth2 form and returns the decoded token payload.
type grantFunc func(ctx context.Context, form url.Values) (tokenResponse, error)

// TokenManager owns the access token lifecycle. Acquisition is serialized:
// concurrent callers block until one grant settles the shared token.
type TokenManager struct {
	mu           sync.Mutex
	email        string
	password     string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	state        TokenState

	grant  grantFunc
	now    func() time.Time
	margin time.Duration
	logger *slog.Logger
}

func newTokenManager(grant grantFunc, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		state:  TokenStateNoCredentials,
		grant:  grant,
		now:    time.Now,
		margin: tokenExpiryMargin,
		logger: logger,
	}
}

// SetCredentials installs the account identity and reports whether it
// changed. A change drops all issued tokens so the next acquisition starts
// from a password grant.
func (t *TokenManager) SetCredentials(email, password string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.email == email && t.password == password {
		return false
	}
	t.email = email
	t.password = password
	t.accessToken = ""
	t.refreshToken = ""
	t.expiresAt = time.Time{}
	if email == "" || password == "" {
		t.state = TokenStateNoCredentials
	} else {
		t.state = TokenStateUnauthenticated
	}
	return true
}

// Invalidate drops all issued tokens but keeps the credentials, forcing a
// fresh password grant on the next Token call.
func (t *TokenManager) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accessToken = ""
	t.refreshToken = ""
	t.expiresAt = time.Time{}
	if t.email != "" && t.password != "" {
		t.state = TokenStateUnauthenticated
	}
}

// State reports the current lifecycle phase.
func (t *TokenManager) State() TokenState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ExpiresAt reports when the current access token lapses. Zero when no token
// is held.
func (t *TokenManager) ExpiresAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiresAt
}

// Token returns a valid access token, acquiring or renewing one as needed.
// Tokens within the expiry margin count as expired. A held refresh token is
// tried first; on failure the password grant runs exactly once.
func (t *TokenManager) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.email == "" || t.password == "" {
		t.state = TokenStateNoCredentials
		return "", &AuthError{Message: "no credentials configured"}
	}
	if t.accessToken != "" && t.now().Add(t.margin).Before(t.expiresAt) {
		return t.accessToken, nil
	}

	if t.refreshToken != "" {
		t.state = TokenStateRefreshing
		err := t.refreshLocked(ctx)
		if err == nil {
			t.state = TokenStateAuthenticated
			metrics.RecordTokenGrant("refresh")
			return t.accessToken, nil
		}
		t.state = TokenStateRefreshFailed
		t.refreshToken = ""
		metrics.RecordTokenGrant("refresh_failed")
		t.logger.Debug("token refresh failed, falling back to password grant", "error", err.Error())
		if ctx.Err() != nil {
			t.state = TokenStateUnauthenticated
			return "", err
		}
	}

	t.state = TokenStateAuthenticating
	if err := t.authenticateLocked(ctx); err != nil {
		t.state = TokenStateUnauthenticated
		metrics.RecordTokenGrant("password_failed")
		return "", err
	}
	t.state = TokenStateAuthenticated
	metrics.RecordTokenGrant("password")
	return t.accessToken, nil
}

func (t *TokenManager) authenticateLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("client_id", oauthClientID)
	form.Set("client_secret", oauthClientSecret)
	form.Set("grant_type", "password")
	form.Set("username", t.email)
	form.Set("password", t.password)

	tok, err := t.grant(ctx, form)
	if err != nil {
		return err
	}
	t.applyLocked(tok)
	return nil
}

func (t *TokenManager) refreshLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("client_id", oauthClientID)
	form.Set("client_secret", oauthClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", t.refreshToken)

	tok, err := t.grant(ctx, form)
	if err != nil {
		return err
	}
	t.applyLocked(tok)
	return nil
}

func (t *TokenManager) applyLocked(tok tokenResponse) {
	t.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		t.refreshToken = tok.RefreshToken
	}
	ttl := defaultTokenTTL
	if tok.ExpiresIn > 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}
	t.expiresAt = t.now().Add(ttl)
}
