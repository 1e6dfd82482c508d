package server

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded ticket defaults, used when the config leaves them unset.
const (
	DefaultAccessTokenTTL     = 8 * time.Hour
	DefaultAccessTokenIdle    = 2 * time.Hour
	DefaultTicketGrantingTTL  = 8 * time.Hour
	DefaultTicketGrantingIdle = 2 * time.Hour
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Services  []ServiceConfig `yaml:"services"`
	Tickets   TicketConfig    `yaml:"tickets"`
	Delegated DelegatedConfig `yaml:"delegated"`
	Risk      RiskConfig      `yaml:"risk"`
	Keys      KeyConfig       `yaml:"keys"`
}

// ServerConfig controls listener, identity, and TLS concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	ListenAddr      string    `yaml:"listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	Name            string    `yaml:"name"`
	LoginURL        string    `yaml:"login_url"`
	DevMode         bool      `yaml:"dev_mode"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and the shared TLS context handed to
// delegated clients.
type TLSConfig struct {
	Domains            []string `yaml:"domains"`
	Email              string   `yaml:"email"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
}

// ServiceConfig describes a relying-party registration.
type ServiceConfig struct {
	ServiceID    string                   `yaml:"service_id"`
	Name         string                   `yaml:"name"`
	ClientID     string                   `yaml:"client_id"`
	ClientSecret string                   `yaml:"client_secret"`
	RedirectURIs []string                 `yaml:"redirect_uris"`
	Scopes       []string                 `yaml:"scopes"`
	AccessToken  *AccessTokenPolicyConfig `yaml:"access_token"`
}

// AccessTokenPolicyConfig is the optional per-service expiration override.
// Values are duration strings; "PT2H" and "2h" are both accepted.
type AccessTokenPolicyConfig struct {
	MaxTimeToLive string `yaml:"max_time_to_live"`
	TimeToKill    string `yaml:"time_to_kill"`
}

// TicketConfig sets the default expiration policies per ticket kind.
type TicketConfig struct {
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	AccessTokenIdle    time.Duration `yaml:"access_token_idle"`
	TicketGrantingTTL  time.Duration `yaml:"ticket_granting_ttl"`
	TicketGrantingIdle time.Duration `yaml:"ticket_granting_idle"`
}

// DelegatedClientProperties is the configuration shared by every delegated
// provider entry.
type DelegatedClientProperties struct {
	Enabled              bool   `yaml:"enabled"`
	ClientName           string `yaml:"client_name"`
	AutoRedirectType     string `yaml:"auto_redirect_type"`
	PrincipalIDAttribute string `yaml:"principal_id_attribute"`
	CSSClass             string `yaml:"css_class"`
	DisplayName          string `yaml:"display_name"`
	CallbackURL          string `yaml:"callback_url"`
	CallbackURLType      string `yaml:"callback_url_type"`
}

// CASProviderProperties configures one delegated CAS server.
type CASProviderProperties struct {
	DelegatedClientProperties `yaml:",inline"`
	LoginURL                  string `yaml:"login_url"`
	Protocol                  string `yaml:"protocol"`
}

// OIDCProviderProperties configures one delegated OIDC provider.
type OIDCProviderProperties struct {
	DelegatedClientProperties `yaml:",inline"`
	Issuer                    string   `yaml:"issuer"`
	ClientID                  string   `yaml:"client_id"`
	ClientSecret              string   `yaml:"client_secret"`
	Scopes                    []string `yaml:"scopes"`
}

// DelegatedConfig groups the delegated identity providers.
type DelegatedConfig struct {
	LazyInit bool                     `yaml:"lazy_init"`
	CAS      []CASProviderProperties  `yaml:"cas"`
	OIDC     []OIDCProviderProperties `yaml:"oidc"`
}

// RiskConfig selects the contingency plan for risky authentication attempts.
type RiskConfig struct {
	Threshold   float64 `yaml:"threshold"`
	Plan        string  `yaml:"plan"`
	MFAProvider string  `yaml:"mfa_provider"`
}

// KeyConfig controls signing-key storage and rotation.
type KeyConfig struct {
	JWKSPath       string        `yaml:"jwks_path"`
	RotateInterval time.Duration `yaml:"rotate_interval"`
}

// DefaultConfig returns the built-in defaults before YAML and environment
// overrides apply.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
		},
		Tickets: TicketConfig{
			AccessTokenTTL:     DefaultAccessTokenTTL,
			AccessTokenIdle:    DefaultAccessTokenIdle,
			TicketGrantingTTL:  DefaultTicketGrantingTTL,
			TicketGrantingIdle: DefaultTicketGrantingIdle,
		},
		Delegated: DelegatedConfig{LazyInit: true},
		Risk:      RiskConfig{Threshold: 0.7, Plan: "none"},
	}
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills derived fields and validates the result.
func (c *Config) Normalize() error {
	if c.Server.PublicURL == "" {
		if !c.Server.DevMode {
			return fmt.Errorf("server.public_url is required outside dev mode")
		}
		c.Server.PublicURL = "http://" + c.Server.ListenAddr
	}
	parsed, err := url.Parse(c.Server.PublicURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("server.public_url %q is not a valid URL", c.Server.PublicURL)
	}

	if c.Server.Name == "" {
		c.Server.Name = parsed.Host
	}
	base := strings.TrimSuffix(c.Server.PublicURL, "/")
	if c.Server.LoginURL == "" {
		c.Server.LoginURL = base + "/login"
	}

	if c.Tickets.AccessTokenTTL <= 0 {
		c.Tickets.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.Tickets.AccessTokenIdle <= 0 {
		c.Tickets.AccessTokenIdle = DefaultAccessTokenIdle
	}
	if c.Tickets.TicketGrantingTTL <= 0 {
		c.Tickets.TicketGrantingTTL = DefaultTicketGrantingTTL
	}
	if c.Tickets.TicketGrantingIdle <= 0 {
		c.Tickets.TicketGrantingIdle = DefaultTicketGrantingIdle
	}

	seen := make(map[string]struct{}, len(c.Services))
	for _, svc := range c.Services {
		if svc.ClientID == "" {
			return fmt.Errorf("service %q: client_id required", svc.Name)
		}
		if _, dup := seen[svc.ClientID]; dup {
			return fmt.Errorf("duplicate client_id %q", svc.ClientID)
		}
		seen[svc.ClientID] = struct{}{}
	}

	switch c.Risk.Plan {
	case "", "none", "block", "mfa":
	default:
		return fmt.Errorf("risk.plan %q is not one of none, block, mfa", c.Risk.Plan)
	}
	return nil
}

// AccessTokenPolicyBuilder returns the default access-token expiration
// policy derived from config.
func (c *Config) AccessTokenPolicyBuilder() ExpirationPolicyBuilder {
	ttl := c.Tickets.AccessTokenTTL
	idle := c.Tickets.AccessTokenIdle
	return func() ExpirationPolicy {
		return ExpirationPolicy{MaxTimeToLive: ttl, TimeToKill: idle}
	}
}

// TicketGrantingPolicyBuilder returns the default root-ticket policy.
func (c *Config) TicketGrantingPolicyBuilder() ExpirationPolicyBuilder {
	ttl := c.Tickets.TicketGrantingTTL
	idle := c.Tickets.TicketGrantingIdle
	return func() ExpirationPolicy {
		return ExpirationPolicy{MaxTimeToLive: ttl, TimeToKill: idle}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SSOD_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("SSOD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("SSOD_SECRETS_PATH"); v != "" {
		cfg.Server.SecretsPath = v
	}
}
