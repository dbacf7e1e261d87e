package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/metrics"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

// refreshMargin is the safety window before the stored expiry at which a
// refresh is forced, so a token cannot expire mid-batch.
const refreshMargin = 30 * time.Second

// CredentialStore persists the OAuth credential between runs.
type CredentialStore interface {
	LoadCredential(ctx context.Context) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
}

// AuthFlow is the tagged variant over the two supported authorization flows.
// It only decides which client-authentication fields each grant carries; the
// surrounding protocol is identical.
type AuthFlow interface {
	Name() string
	// exchangeParams adds client authentication to the authorization_code
	// grant. PKCE proves possession of the original verifier; confidential
	// clients send their secret.
	exchangeParams(form url.Values, cred *models.Credential) error
	// refreshParams adds client authentication to the refresh_token grant.
	// PKCE public clients send none: the verifier only binds the initial
	// exchange, not refreshes.
	refreshParams(form url.Values)
	// authorizeParams adds flow-specific query fields to the authorization
	// URL and returns a verifier to persist, if the flow uses one.
	authorizeParams(q url.Values) (verifier string)
}

// PKCE is the public-client flow.
type PKCE struct{}

func (PKCE) Name() string { return config.FlowPKCE }

func (PKCE) exchangeParams(form url.Values, cred *models.Credential) error {
	if cred.CodeVerifier == "" {
		return ErrMissingCodeVerifier
	}
	form.Set("code_verifier", cred.CodeVerifier)
	return nil
}

func (PKCE) refreshParams(url.Values) {}

func (PKCE) authorizeParams(q url.Values) string {
	verifier := GenerateVerifier()
	q.Set("code_challenge", Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	return verifier
}

// ClientSecret is the confidential-client flow.
type ClientSecret struct {
	Secret string
}

func (f ClientSecret) Name() string { return config.FlowClientSecret }

func (f ClientSecret) exchangeParams(form url.Values, _ *models.Credential) error {
	form.Set("client_secret", f.Secret)
	return nil
}

func (f ClientSecret) refreshParams(form url.Values) {
	form.Set("client_secret", f.Secret)
}

func (ClientSecret) authorizeParams(url.Values) string { return "" }

// FlowFromConfig maps the configured flow name onto its variant.
func FlowFromConfig(cfg config.ProviderConfig) (AuthFlow, error) {
	switch cfg.Flow {
	case config.FlowPKCE:
		return PKCE{}, nil
	case config.FlowClientSecret:
		return ClientSecret{Secret: cfg.ClientSecret}, nil
	}
	return nil, fmt.Errorf("unknown provider flow: %q", cfg.Flow)
}

// Manager owns the access-token lifecycle against the authorization server.
type Manager struct {
	store  CredentialStore
	cfg    config.ProviderConfig
	flow   AuthFlow
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(store CredentialStore, cfg config.ProviderConfig, flow AuthFlow, timeout time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg,
		flow:   flow,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// GetAccessToken returns a valid access token, refreshing it when the stored
// expiry is within the safety margin. A failed refresh is returned as a
// *TokenError; callers treat it as fatal and must not start the batch.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	cred, err := m.store.LoadCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if !cred.HasTokens() {
		return "", ErrCredentialMissing
	}

	if !cred.ExpiresWithin(m.now(), refreshMargin) {
		return cred.AccessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", m.cfg.ClientID)
	m.flow.refreshParams(form)

	tok, err := m.postToken(ctx, "refresh_token", form)
	if err != nil {
		metrics.IncTokenRefresh("failure")
		return "", err
	}
	metrics.IncTokenRefresh("success")

	cred.AccessToken = tok.AccessToken
	// Refresh tokens are not always rotated; keep the prior one when the
	// response omits it.
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.TokenExpiry = m.now().UnixMilli() + tok.ExpiresIn*1000

	if err := m.store.SaveCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}

	m.logger.Info().Int64("expires_in", tok.ExpiresIn).Msg("access token refreshed")
	return cred.AccessToken, nil
}

// ExchangeCode performs the one-time authorization-code exchange from the
// stored code. On success the token pair and expiry are persisted; the PKCE
// verifier is cleared so the code cannot be replayed with it.
func (m *Manager) ExchangeCode(ctx context.Context) error {
	cred, err := m.store.LoadCredential(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred.AuthorizationCode == "" {
		return ErrMissingAuthorizationCode
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", cred.AuthorizationCode)
	form.Set("redirect_uri", m.redirectURI(cred))
	form.Set("client_id", m.cfg.ClientID)
	if err := m.flow.exchangeParams(form, cred); err != nil {
		return err
	}

	tok, err := m.postToken(ctx, "authorization_code", form)
	if err != nil {
		return err
	}

	cred.AccessToken = tok.AccessToken
	cred.RefreshToken = tok.RefreshToken
	cred.TokenExpiry = m.now().UnixMilli() + tok.ExpiresIn*1000
	if m.flow.Name() == config.FlowPKCE {
		cred.CodeVerifier = ""
	}

	if err := m.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	m.logger.Info().Str("flow", m.flow.Name()).Msg("authorization code exchanged")
	return nil
}

// StoreAuthorizationCode records a code received on the redirect callback so
// ExchangeCode can consume it.
func (m *Manager) StoreAuthorizationCode(ctx context.Context, code string) error {
	cred, err := m.store.LoadCredential(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	cred.AuthorizationCode = code
	return m.store.SaveCredential(ctx, cred)
}

// AuthorizationURL builds the user-facing authorization URL and persists it
// alongside the credential. For PKCE a fresh verifier is generated and stored
// before the challenge goes into the URL.
func (m *Manager) AuthorizationURL(ctx context.Context) (string, error) {
	cred, err := m.store.LoadCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", m.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", m.redirectURI(cred))
	q.Set("scope", m.cfg.Scope)
	verifier := m.flow.authorizeParams(q)

	authURL := m.cfg.AuthorizeURL + "?" + q.Encode()

	cred.AuthorizationURL = authURL
	if verifier != "" {
		cred.CodeVerifier = verifier
	}
	if err := m.store.SaveCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("persist credential: %w", err)
	}

	return authURL, nil
}

func (m *Manager) redirectURI(cred *models.Credential) string {
	if cred.RedirectURI != "" {
		return cred.RedirectURI
	}
	return m.cfg.RedirectURI
}

func (m *Manager) postToken(ctx context.Context, grant string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenError{Grant: grant, Status: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response contains no access_token")
	}
	return &tok, nil
}
