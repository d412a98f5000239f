package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/model/card"
)

// TokenServiceGate resolves per-user OAuth tokens from a Bot-Framework-style
// token service. Tokens are cached with a TTL derived from their expiration
// so each turn does not hit the token service.
type TokenServiceGate struct {
	baseURL        string
	connectionName string
	credentials    *AppCredentials
	loginURL       string
	httpClient     *http.Client
	cache          *gocache.Cache
	logger         *zap.Logger
}

const defaultTokenTTL = 5 * time.Minute

// NewTokenServiceGate builds the gate. credentials authenticate the bridge
// itself against the token service (nil for emulator setups); loginURL lands
// on the interactive sign-in page shown in the login card.
func NewTokenServiceGate(baseURL, connectionName string, credentials *AppCredentials, loginURL string, logger *zap.Logger) *TokenServiceGate {
	return &TokenServiceGate{
		baseURL:        baseURL,
		connectionName: connectionName,
		credentials:    credentials,
		loginURL:       loginURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		cache:          gocache.New(defaultTokenTTL, 10*time.Minute),
		logger:         logger,
	}
}

// Token returns the user's cached token or fetches one from the token
// service. A missing token means the user has to sign in interactively.
func (g *TokenServiceGate) Token(ctx context.Context, userID string) (string, error) {
	if tok, ok := g.cache.Get(userID); ok {
		return tok.(string), nil
	}

	endpoint := fmt.Sprintf("%s/api/usertoken/GetToken?userId=%s&connectionName=%s",
		g.baseURL, url.QueryEscape(userID), url.QueryEscape(g.connectionName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	if err := g.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call token service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrLoginRequired
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("token service returned unexpected status",
			zap.Int("status", resp.StatusCode),
			zap.String("user", userID))
		return "", ErrLoginRequired
	}

	var payload struct {
		Token      string `json:"token"`
		Expiration string `json:"expiration"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", ErrLoginRequired
	}

	g.StoreToken(userID, payload.Token, payload.Expiration)
	return payload.Token, nil
}

// StoreToken caches a token delivered out of band, trimming the TTL to the
// token's expiration when the service provided one.
func (g *TokenServiceGate) StoreToken(userID, token, expiration string) {
	ttl := defaultTokenTTL
	if expiration != "" {
		if exp, err := time.Parse(time.RFC3339, expiration); err == nil {
			if until := time.Until(exp); until > 0 && until < ttl {
				ttl = until
			}
		}
	}
	g.cache.Set(userID, token, ttl)
}

// SignOut drops the cached token and tells the token service to revoke it.
func (g *TokenServiceGate) SignOut(ctx context.Context, userID string) error {
	g.cache.Delete(userID)

	endpoint := fmt.Sprintf("%s/api/usertoken/SignOut?userId=%s&connectionName=%s",
		g.baseURL, url.QueryEscape(userID), url.QueryEscape(g.connectionName))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build sign-out request: %w", err)
	}
	if err := g.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call token service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sign-out returned status %d", resp.StatusCode)
	}
	return nil
}

// LoginMessage returns the interactive sign-in prompt.
func (g *TokenServiceGate) LoginMessage() card.Message {
	return card.SignIn(g.loginURL)
}

// authorize attaches the bridge's own service token when configured.
func (g *TokenServiceGate) authorize(ctx context.Context, req *http.Request) error {
	tok, err := g.credentials.Token(ctx)
	if err != nil {
		return fmt.Errorf("app credentials: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}
