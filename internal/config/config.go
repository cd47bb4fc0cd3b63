package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerCfg struct {
	Listen         string `yaml:"listen"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

type LoggingCfg struct {
	Level string `yaml:"level"` // info|debug
}

type CookieCfg struct {
	Name     string `yaml:"name"` // remember-me cookie; "sess" is never issued
	Domain   string `yaml:"domain"`
	Path     string `yaml:"path"`
	SameSite string `yaml:"same_site"` // Lax | None
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"http_only"`
}

// RouteRule binds an ordered set of path patterns to the roles allowed
// through. Patterns use ant-style wildcards: "*" matches one path segment,
// "**" matches any remainder.
type RouteRule struct {
	Patterns []string `yaml:"patterns"`
	Roles    []string `yaml:"roles"`
}

type SecurityCfg struct {
	Signin        string      `yaml:"signin"`         // entry point for unauthenticated callers
	SigninSuccess string      `yaml:"signin_success"` // default post-login target
	SigninFailure string      `yaml:"signin_failure"`
	AccessDenied  string      `yaml:"access_denied"`
	ReturnParam   string      `yaml:"returnto_param"`
	Ignored       []string    `yaml:"ignored"`   // patterns exempt from the whole pipeline
	Protected     []RouteRule `yaml:"protected"` // ordered, first match wins
}

type AuthCfg struct {
	PasswordPath  string `yaml:"password_path"`
	FederatedPath string `yaml:"federated_path"`
	OAuthPath     string `yaml:"oauth_path"`
	SignoutPath   string `yaml:"signout_path"`
	LoginRPSMax   int    `yaml:"login_attempts_max"` // per-IP attempts within window
	LoginWindowS  int    `yaml:"login_attempts_window_sec"`
}

type RememberMeCfg struct {
	Secret      string `yaml:"secret"` // base64url, >=16 bytes decoded
	ValiditySec int    `yaml:"validity_sec"`
	Always      bool   `yaml:"always"` // issue on every password login, ignoring the opt-in param
}

type SignedCfg struct {
	WindowSec int `yaml:"window_sec"` // replay window for signed-request timestamps
}

type CsrfCfg struct {
	Param  string `yaml:"param"`
	Header string `yaml:"header"`
	TTLSec int    `yaml:"ttl_sec"`
}

type CacheCfg struct {
	Backend   string `yaml:"backend"` // memory | redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ProviderCfg struct {
	Endpoint  string `yaml:"endpoint"`  // OAuth token-inspection URL (e.g. graph "me")
	Issuer    string `yaml:"issuer"`    // OIDC issuer for federated assertions
	ClientID  string `yaml:"client_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type ProvidersCfg struct {
	OAuth     ProviderCfg `yaml:"oauth"`
	Federated ProviderCfg `yaml:"federated"`
}

// BootstrapUser seeds the in-memory identity store. Real deployments plug
// in an external store instead; this mirrors the root-app bootstrap flow.
type BootstrapUser struct {
	ID           string   `yaml:"id"`
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"` // bcrypt
	Secret       string   `yaml:"secret"`        // shared secret for signed requests
	Roles        []string `yaml:"roles"`
}

type IdentityCfg struct {
	Users []BootstrapUser `yaml:"users"`
}

type Config struct {
	Server     ServerCfg     `yaml:"server"`
	Logging    LoggingCfg    `yaml:"logging"`
	Cookie     CookieCfg     `yaml:"cookie"`
	Security   SecurityCfg   `yaml:"security"`
	Auth       AuthCfg       `yaml:"auth"`
	RememberMe RememberMeCfg `yaml:"rememberme"`
	Signed     SignedCfg     `yaml:"signed"`
	Csrf       CsrfCfg       `yaml:"csrf"`
	Cache      CacheCfg      `yaml:"cache"`
	Providers  ProvidersCfg  `yaml:"providers"`
	Identity   IdentityCfg   `yaml:"identity"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = "auth"
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
	if c.Cookie.SameSite == "" {
		c.Cookie.SameSite = "Lax"
	}
	if c.Security.Signin == "" {
		c.Security.Signin = "/signin"
	}
	if c.Security.SigninSuccess == "" {
		c.Security.SigninSuccess = "/"
	}
	if c.Security.SigninFailure == "" {
		c.Security.SigninFailure = "/signin"
	}
	if c.Security.AccessDenied == "" {
		c.Security.AccessDenied = "/error/403"
	}
	if c.Security.ReturnParam == "" {
		c.Security.ReturnParam = "returnto"
	}
	if c.Auth.PasswordPath == "" {
		c.Auth.PasswordPath = "/password_auth"
	}
	if c.Auth.FederatedPath == "" {
		c.Auth.FederatedPath = "/openid_auth"
	}
	if c.Auth.OAuthPath == "" {
		c.Auth.OAuthPath = "/facebook_auth"
	}
	if c.Auth.SignoutPath == "" {
		c.Auth.SignoutPath = "/signout"
	}
	if c.Auth.LoginRPSMax == 0 {
		c.Auth.LoginRPSMax = 20
	}
	if c.Auth.LoginWindowS == 0 {
		c.Auth.LoginWindowS = 60
	}
	if c.RememberMe.ValiditySec == 0 {
		c.RememberMe.ValiditySec = 24 * 3600
	}
	if c.Signed.WindowSec == 0 {
		c.Signed.WindowSec = 15 * 60
	}
	if c.Csrf.Param == "" {
		c.Csrf.Param = "_csrf"
	}
	if c.Csrf.Header == "" {
		c.Csrf.Header = "X-CSRF-Token"
	}
	if c.Csrf.TTLSec == 0 {
		c.Csrf.TTLSec = 3600
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "paragate:csrf:"
	}
	if c.Providers.OAuth.TimeoutMs == 0 {
		c.Providers.OAuth.TimeoutMs = 5000
	}
	if c.Providers.Federated.TimeoutMs == 0 {
		c.Providers.Federated.TimeoutMs = 5000
	}
}

func (c *Config) RememberMeValidity() time.Duration {
	return time.Duration(c.RememberMe.ValiditySec) * time.Second
}

func (c *Config) SignedWindow() time.Duration {
	return time.Duration(c.Signed.WindowSec) * time.Second
}

func (c *Config) CsrfTTL() time.Duration {
	return time.Duration(c.Csrf.TTLSec) * time.Second
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "none":
	default:
		return errors.New("cookie.same_site must be 'Lax' or 'None'")
	}
	if c.RememberMe.Secret == "" {
		return errors.New("rememberme.secret required")
	}
	dec, err := base64.RawURLEncoding.DecodeString(c.RememberMe.Secret)
	if err != nil {
		return fmt.Errorf("rememberme.secret must be base64url: %w", err)
	}
	if len(dec) < 16 {
		return errors.New("rememberme.secret too short; need >=16 bytes decoded")
	}
	if c.RememberMe.ValiditySec < 0 {
		return errors.New("rememberme.validity_sec must be >= 0")
	}
	if c.Signed.WindowSec <= 0 {
		return errors.New("signed.window_sec must be > 0")
	}
	if c.Csrf.TTLSec <= 0 {
		return errors.New("csrf.ttl_sec must be > 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr required when cache.backend is 'redis'")
		}
	default:
		return errors.New("cache.backend must be 'memory' or 'redis'")
	}
	for i, rule := range c.Security.Protected {
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("security.protected[%d]: at least one pattern required", i)
		}
		for _, p := range rule.Patterns {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("security.protected[%d]: pattern %q must start with '/'", i, p)
			}
		}
	}
	return nil
}
