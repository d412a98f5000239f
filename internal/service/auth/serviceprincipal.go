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

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/vnguyen/genie-bridge/internal/model/card"
)

const spCacheKey = "service-principal"

// ServicePrincipalGate authenticates with OAuth client credentials against
// the workspace. Every user shares the machine token, so no interactive
// login ever happens through this gate.
type ServicePrincipalGate struct {
	host         string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cache        *gocache.Cache
	logger       *zap.Logger
}

// NewServicePrincipalGate builds the gate from workspace host and service
// principal credentials.
func NewServicePrincipalGate(host, clientID, clientSecret string, logger *zap.Logger) *ServicePrincipalGate {
	return &ServicePrincipalGate{
		host:         host,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		cache:        gocache.New(defaultTokenTTL, 10*time.Minute),
		logger:       logger,
	}
}

// Token returns the cached machine token, minting a new one through the
// client-credentials grant when none is cached. userID is ignored.
func (g *ServicePrincipalGate) Token(ctx context.Context, _ string) (string, error) {
	if tok, ok := g.cache.Get(spCacheKey); ok {
		return tok.(string), nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "all-apis")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/oidc/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(g.clientID, g.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request service principal token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("client credentials grant failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	ttl := defaultTokenTTL
	if payload.ExpiresIn > 0 {
		// Refresh a minute ahead of expiry.
		ttl = time.Duration(payload.ExpiresIn-60) * time.Second
		if ttl <= 0 {
			ttl = time.Duration(payload.ExpiresIn) * time.Second
		}
	}
	g.cache.Set(spCacheKey, payload.AccessToken, ttl)
	return payload.AccessToken, nil
}

// StoreToken is a no-op: the machine credential is never delivered by the
// transport.
func (g *ServicePrincipalGate) StoreToken(_, _, _ string) {}

// SignOut drops the shared token so the next turn mints a fresh one.
func (g *ServicePrincipalGate) SignOut(_ context.Context, _ string) error {
	g.cache.Delete(spCacheKey)
	return nil
}

// LoginMessage is never shown for service principals, but the interface
// requires a sensible card.
func (g *ServicePrincipalGate) LoginMessage() card.Message {
	return card.Message{Text: "This bridge authenticates with a service principal; no sign-in is required."}
}
