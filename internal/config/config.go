package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Auth methods the bridge supports.
const (
	AuthMethodOAuth            = "oauth"
	AuthMethodServicePrincipal = "service_principal"
)

// Config aggregates all service settings.
type Config struct {
	Server ServerConfig
	Genie  GenieConfig
	Auth   AuthConfig
	Debug  bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	genie, err := loadGenieConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	debug, err := parseBoolEnv("DEBUG", false)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Genie: genie, Auth: auth, Debug: debug}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3978"
	}

	if strings.Contains(port, ":") {
		// Accept ":3978" or "127.0.0.1:3978" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// GenieConfig describes the Databricks workspace and space mapping.
type GenieConfig struct {
	Host       string
	SpacesFile string
}

func loadGenieConfig() (GenieConfig, error) {
	host := strings.TrimSpace(os.Getenv("DATABRICKS_HOST"))
	if host == "" {
		return GenieConfig{}, fmt.Errorf("DATABRICKS_HOST is required")
	}
	host = strings.TrimSuffix(host, "/")

	return GenieConfig{
		Host:       host,
		SpacesFile: getEnvOrDefault("GENIE_SPACES_FILE", "spaces.yaml"),
	}, nil
}

// AuthConfig describes how user credentials are obtained.
type AuthConfig struct {
	Method          string
	ClientID        string
	ClientSecret    string
	AppID           string
	AppPassword     string
	ConnectionName  string
	TokenServiceURL string
	LoginURL        string
}

func loadAuthConfig() (AuthConfig, error) {
	cfg := AuthConfig{
		Method:          getEnvOrDefault("AUTH_METHOD", AuthMethodOAuth),
		ClientID:        strings.TrimSpace(os.Getenv("DATABRICKS_CLIENT_ID")),
		ClientSecret:    strings.TrimSpace(os.Getenv("DATABRICKS_CLIENT_SECRET")),
		AppID:           strings.TrimSpace(os.Getenv("APP_ID")),
		AppPassword:     strings.TrimSpace(os.Getenv("APP_PASSWORD")),
		ConnectionName:  strings.TrimSpace(os.Getenv("OAUTH_CONNECTION_NAME")),
		TokenServiceURL: getEnvOrDefault("TOKEN_SERVICE_URL", "https://token.botframework.com"),
		LoginURL:        strings.TrimSpace(os.Getenv("LOGIN_URL")),
	}

	switch cfg.Method {
	case AuthMethodOAuth:
		if cfg.ConnectionName == "" {
			return AuthConfig{}, fmt.Errorf("OAUTH_CONNECTION_NAME is required when AUTH_METHOD=%s", AuthMethodOAuth)
		}
	case AuthMethodServicePrincipal:
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return AuthConfig{}, fmt.Errorf("DATABRICKS_CLIENT_ID and DATABRICKS_CLIENT_SECRET are required when AUTH_METHOD=%s", AuthMethodServicePrincipal)
		}
	default:
		return AuthConfig{}, fmt.Errorf("invalid AUTH_METHOD %q: use %s or %s", cfg.Method, AuthMethodOAuth, AuthMethodServicePrincipal)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
