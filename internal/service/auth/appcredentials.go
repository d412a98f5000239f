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
)

const (
	appTokenCacheKey = "app-token"
	appLoginURL      = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	appTokenScope    = "https://api.botframework.com/.default"
)

// AppCredentials mints the service token the bridge itself uses against the
// chat service (webhook replies, user token lookups). A nil *AppCredentials
// is valid and means unauthenticated access, as with a local emulator.
type AppCredentials struct {
	appID      string
	appSecret  string
	httpClient *http.Client
	cache      *gocache.Cache
	logger     *zap.Logger
}

// NewAppCredentials builds credentials from the registered app id/password.
// Returns nil when no app id is configured.
func NewAppCredentials(appID, appSecret string, logger *zap.Logger) *AppCredentials {
	if appID == "" {
		return nil
	}
	return &AppCredentials{
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      gocache.New(defaultTokenTTL, 10*time.Minute),
		logger:     logger,
	}
}

// Token returns a cached service token, minting one through the client
// credentials grant when needed.
func (a *AppCredentials) Token(ctx context.Context) (string, error) {
	if a == nil {
		return "", nil
	}
	if tok, ok := a.cache.Get(appTokenCacheKey); ok {
		return tok.(string), nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.appID)
	form.Set("client_secret", a.appSecret)
	form.Set("scope", appTokenScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, appLoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build app token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request app token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read app token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		a.logger.Error("app token grant failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return "", fmt.Errorf("app token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode app token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("app token endpoint returned no access token")
	}

	ttl := defaultTokenTTL
	if payload.ExpiresIn > 60 {
		ttl = time.Duration(payload.ExpiresIn-60) * time.Second
	}
	a.cache.Set(appTokenCacheKey, payload.AccessToken, ttl)
	return payload.AccessToken, nil
}
