package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"
	"tasksync/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenEndpoint struct {
	status   int
	response map[string]any
	requests []url.Values
}

func (e *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		e.requests = append(e.requests, r.PostForm)

		if e.status != 0 && e.status != http.StatusOK {
			w.WriteHeader(e.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.response)
	}
}

func newTestManager(t *testing.T, cred models.Credential, flow AuthFlow, endpoint *tokenEndpoint) (*Manager, *store.MemoryStore) {
	t.Helper()

	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	st := store.NewMemoryStore(cred, nil, nil)
	cfg := config.ProviderConfig{
		ClientID:     "client-1",
		TokenURL:     srv.URL,
		AuthorizeURL: "https://login.example.com/authorize",
		Scope:        "tasks.readwrite offline_access",
		RedirectURI:  "http://localhost:8080/oauth/callback",
	}
	return NewManager(st, cfg, flow, 5*time.Second, zerolog.Nop()), st
}

func validCred(expiry time.Time) models.Credential {
	return models.Credential{
		ClientID:     "client-1",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		TokenExpiry:  expiry.UnixMilli(),
	}
}

func TestGetAccessTokenStillValid(t *testing.T) {
	endpoint := &tokenEndpoint{}
	m, _ := newTestManager(t, validCred(time.Now().Add(time.Hour)), PKCE{}, endpoint)

	token, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-access", token)
	assert.Empty(t, endpoint.requests, "no refresh call expected for a valid token")
}

func TestGetAccessTokenRefreshesWithinMargin(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
		"expires_in":    3600,
	}}
	// 10s before expiry is inside the 30s safety margin.
	m, st := newTestManager(t, validCred(time.Now().Add(10*time.Second)), PKCE{}, endpoint)

	before := time.Now().UnixMilli()
	token, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	require.Len(t, endpoint.requests, 1)
	form := endpoint.requests[0]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.Empty(t, form.Get("client_secret"), "PKCE public client sends no secret on refresh")

	cred := st.Credential()
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "new-refresh", cred.RefreshToken)
	assert.GreaterOrEqual(t, cred.TokenExpiry, before+3600*1000)
}

func TestGetAccessTokenRefreshOncePerBatch(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token": "new-access",
		"expires_in":   3600,
	}}
	m, _ := newTestManager(t, validCred(time.Now().Add(-time.Minute)), PKCE{}, endpoint)

	_, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	_, err = m.GetAccessToken(context.Background())
	require.NoError(t, err)

	assert.Len(t, endpoint.requests, 1, "second call must reuse the refreshed token")
}

func TestGetAccessTokenKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token": "new-access",
		"expires_in":   3600,
	}}
	m, st := newTestManager(t, validCred(time.Now().Add(-time.Minute)), PKCE{}, endpoint)

	_, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "old-refresh", st.Credential().RefreshToken)
}

func TestGetAccessTokenConfidentialSendsSecret(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token": "new-access",
		"expires_in":   3600,
	}}
	m, _ := newTestManager(t, validCred(time.Now().Add(-time.Minute)), ClientSecret{Secret: "s3cret"}, endpoint)

	_, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)

	require.Len(t, endpoint.requests, 1)
	assert.Equal(t, "s3cret", endpoint.requests[0].Get("client_secret"))
}

func TestGetAccessTokenCredentialMissing(t *testing.T) {
	endpoint := &tokenEndpoint{}
	m, _ := newTestManager(t, models.Credential{AccessToken: "only-access"}, PKCE{}, endpoint)

	_, err := m.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, ErrCredentialMissing)
	assert.Empty(t, endpoint.requests)
}

func TestGetAccessTokenRefreshFailure(t *testing.T) {
	endpoint := &tokenEndpoint{status: http.StatusUnauthorized}
	m, st := newTestManager(t, validCred(time.Now().Add(-time.Minute)), PKCE{}, endpoint)

	_, err := m.GetAccessToken(context.Background())
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, http.StatusUnauthorized, tokenErr.Status)
	assert.Equal(t, "refresh_token", tokenErr.Grant)

	// The stored credential must be untouched by a failed refresh.
	assert.Equal(t, "old-access", st.Credential().AccessToken)
}

func TestExchangeCodePKCE(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token":  "access-1",
		"refresh_token": "refresh-1",
		"expires_in":    3600,
	}}
	cred := models.Credential{
		AuthorizationCode: "auth-code",
		CodeVerifier:      "stored-verifier",
	}
	m, st := newTestManager(t, cred, PKCE{}, endpoint)

	require.NoError(t, m.ExchangeCode(context.Background()))

	require.Len(t, endpoint.requests, 1)
	form := endpoint.requests[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code", form.Get("code"))
	assert.Equal(t, "stored-verifier", form.Get("code_verifier"))
	assert.Equal(t, "http://localhost:8080/oauth/callback", form.Get("redirect_uri"))

	got := st.Credential()
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Empty(t, got.CodeVerifier, "verifier must be cleared after the exchange")
}

func TestExchangeCodeMissingCode(t *testing.T) {
	m, _ := newTestManager(t, models.Credential{}, PKCE{}, &tokenEndpoint{})
	assert.ErrorIs(t, m.ExchangeCode(context.Background()), ErrMissingAuthorizationCode)
}

func TestExchangeCodeMissingVerifier(t *testing.T) {
	m, _ := newTestManager(t, models.Credential{AuthorizationCode: "auth-code"}, PKCE{}, &tokenEndpoint{})
	assert.ErrorIs(t, m.ExchangeCode(context.Background()), ErrMissingCodeVerifier)
}

func TestExchangeCodeConfidential(t *testing.T) {
	endpoint := &tokenEndpoint{response: map[string]any{
		"access_token":  "access-1",
		"refresh_token": "refresh-1",
		"expires_in":    3600,
	}}
	m, _ := newTestManager(t, models.Credential{AuthorizationCode: "auth-code"}, ClientSecret{Secret: "s3cret"}, endpoint)

	require.NoError(t, m.ExchangeCode(context.Background()))

	require.Len(t, endpoint.requests, 1)
	form := endpoint.requests[0]
	assert.Equal(t, "s3cret", form.Get("client_secret"))
	assert.Empty(t, form.Get("code_verifier"))
}

func TestAuthorizationURLPKCE(t *testing.T) {
	m, st := newTestManager(t, models.Credential{}, PKCE{}, &tokenEndpoint{})

	authURL, err := m.AuthorizationURL(context.Background())
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("scope"))

	cred := st.Credential()
	require.NotEmpty(t, cred.CodeVerifier, "verifier must be persisted before the URL is handed out")
	assert.Equal(t, Challenge(cred.CodeVerifier), q.Get("code_challenge"))
	assert.Equal(t, authURL, cred.AuthorizationURL)
}

func TestAuthorizationURLConfidential(t *testing.T) {
	m, st := newTestManager(t, models.Credential{}, ClientSecret{Secret: "s3cret"}, &tokenEndpoint{})

	authURL, err := m.AuthorizationURL(context.Background())
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Empty(t, q.Get("code_challenge"))
	assert.Empty(t, q.Get("code_challenge_method"))
	assert.Empty(t, st.Credential().CodeVerifier)
}
