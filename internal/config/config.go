package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/wadahiro/flowlens/internal/delivery"
	"github.com/wadahiro/flowlens/internal/oauth"
)

// Config is the top-level configuration. Values come from the TOML file and can be
// overridden by FLOWLENS_* environment variables.
type Config struct {
	ListenAddr         string        `toml:"listen_addr"          env:"FLOWLENS_LISTEN_ADDR"`
	BaseURL            string        `toml:"base_url"             env:"FLOWLENS_BASE_URL"`
	LogLevel           string        `toml:"log_level"            env:"FLOWLENS_LOG_LEVEL"`
	DataDir            string        `toml:"data_dir"             env:"FLOWLENS_DATA_DIR"`
	DeliveryMode       string        `toml:"delivery_mode"        env:"FLOWLENS_DELIVERY_MODE"`
	RelayPath          string        `toml:"relay_path"           env:"FLOWLENS_RELAY_PATH"`
	CallbackPath       string        `toml:"callback_path"        env:"FLOWLENS_CALLBACK_PATH"`
	EnforceCORS        bool          `toml:"enforce_cors"         env:"FLOWLENS_ENFORCE_CORS"`
	InsecureSkipVerify bool          `toml:"insecure_skip_verify" env:"FLOWLENS_INSECURE_SKIP_VERIFY"`
	RequestTimeout     time.Duration `toml:"request_timeout"      env:"FLOWLENS_REQUEST_TIMEOUT"`
	TLSCertPath        string        `toml:"tls_cert_path"        env:"FLOWLENS_TLS_CERT_PATH"`
	TLSKeyPath         string        `toml:"tls_key_path"         env:"FLOWLENS_TLS_KEY_PATH"`
	TLSSelfSigned      bool          `toml:"tls_self_signed"      env:"FLOWLENS_TLS_SELF_SIGNED"`

	Registration RegistrationConfig `toml:"registration" envPrefix:"FLOWLENS_REGISTRATION_"`

	// Computed fields (not from TOML)
	ParsedHost string // host:port extracted from base_url
	BasePath   string // path prefix extracted from base_url
}

// RegistrationConfig is the template offered for dynamic client registration.
type RegistrationConfig struct {
	ClientName              string   `toml:"client_name"                env:"CLIENT_NAME"`
	Scope                   string   `toml:"scope"                      env:"SCOPE"`
	TokenEndpointAuthMethod string   `toml:"token_endpoint_auth_method" env:"TOKEN_ENDPOINT_AUTH_METHOD"`
	GrantTypes              []string `toml:"grant_types"                env:"GRANT_TYPES"`
	ResponseTypes           []string `toml:"response_types"             env:"RESPONSE_TYPES"`
	Contacts                []string `toml:"contacts"                   env:"CONTACTS"`
}

// Load reads the configuration. An empty path skips the file and uses defaults plus the
// environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:     ":3000",
		LogLevel:       "info",
		DataDir:        "data",
		DeliveryMode:   string(delivery.ModeDirect),
		RelayPath:      "/relay",
		CallbackPath:   "/callback",
		RequestTimeout: 30 * time.Second,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DeliveryMode == "" {
		cfg.DeliveryMode = string(delivery.ModeDirect)
	}
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSEnabled() {
			scheme = "https"
		}
		host := cfg.ListenAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		cfg.BaseURL = scheme + "://" + host
	}
	cfg.RelayPath = ensureLeadingSlash(cfg.RelayPath, "/relay")
	cfg.CallbackPath = ensureLeadingSlash(cfg.CallbackPath, "/callback")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.TLSSelfSigned && (cfg.TLSCertPath != "" || cfg.TLSKeyPath != "") {
		return errors.New("tls_self_signed and tls_cert_path/tls_key_path are mutually exclusive")
	}
	if (cfg.TLSCertPath != "") != (cfg.TLSKeyPath != "") {
		return errors.New("both tls_cert_path and tls_key_path must be specified together")
	}
	switch delivery.Mode(cfg.DeliveryMode) {
	case delivery.ModeDirect, delivery.ModeRelay:
	default:
		return fmt.Errorf("delivery_mode %q: must be direct or relay", cfg.DeliveryMode)
	}
	if cfg.RelayPath == cfg.CallbackPath {
		return fmt.Errorf("relay_path and callback_path must differ (both %q)", cfg.RelayPath)
	}
	return parseBaseURL(&cfg.BaseURL, &cfg.ParsedHost, &cfg.BasePath)
}

// parseBaseURL validates and parses a base_url, setting the computed host and basePath fields.
func parseBaseURL(baseURL *string, parsedHost *string, basePath *string) error {
	u, err := url.Parse(*baseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", *baseURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q: scheme must be http or https", *baseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q: host is required", *baseURL)
	}

	*parsedHost = u.Host

	// Normalize path: strip trailing slash
	p := strings.TrimRight(u.Path, "/")
	*basePath = p

	*baseURL = u.Scheme + "://" + u.Host + p

	return nil
}

func ensureLeadingSlash(p, def string) string {
	if p == "" {
		return def
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// TLSEnabled returns true if TLS is configured (self-signed or cert files).
func (c *Config) TLSEnabled() bool {
	return c.TLSSelfSigned || (c.TLSCertPath != "" && c.TLSKeyPath != "")
}

// Origin is the scheme://host the application is served from.
func (c *Config) Origin() string {
	return strings.TrimSuffix(c.BaseURL, c.BasePath)
}

// RedirectURI is the absolute URL authorization servers redirect back to.
func (c *Config) RedirectURI() string {
	return c.BaseURL + c.CallbackPath
}

// RelayURL is the absolute URL of the relay endpoint.
func (c *Config) RelayURL() string {
	return c.BaseURL + c.RelayPath
}

// StorePath is the bbolt database file under data_dir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "flowlens.db")
}

// RegistrationRequest builds the dynamic registration template. Unset fields fall back to
// the defaults for the redirect URI.
func (c *Config) RegistrationRequest() oauth.RegistrationRequest {
	req := oauth.DefaultRegistrationRequest(c.RedirectURI())
	r := c.Registration
	if r.ClientName != "" {
		req.ClientName = r.ClientName
	}
	if r.Scope != "" {
		req.Scope = r.Scope
	}
	if r.TokenEndpointAuthMethod != "" {
		req.TokenEndpointAuthMethod = r.TokenEndpointAuthMethod
	}
	if len(r.GrantTypes) > 0 {
		req.GrantTypes = r.GrantTypes
	}
	if len(r.ResponseTypes) > 0 {
		req.ResponseTypes = r.ResponseTypes
	}
	if len(r.Contacts) > 0 {
		req.Contacts = r.Contacts
	}
	return req
}
