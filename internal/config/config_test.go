package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
rememberme:
  secret: "c2FtcGxlLXNlY3JldC1yZXBsYWNlLW1lLXBsZWFzZQ"
security:
  protected:
    - patterns: ["/admin/**"]
      roles: ["admin"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("listen default = %q", cfg.Server.Listen)
	}
	if cfg.Cookie.Name != "auth" {
		t.Errorf("cookie default = %q", cfg.Cookie.Name)
	}
	if cfg.Auth.PasswordPath != "/password_auth" {
		t.Errorf("password path default = %q", cfg.Auth.PasswordPath)
	}
	if cfg.Signed.WindowSec != 900 {
		t.Errorf("signed window default = %d", cfg.Signed.WindowSec)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend default = %q", cfg.Cache.Backend)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing secret", `
security:
  protected: []
`},
		{"short secret", `
rememberme:
  secret: "dG9vc2hvcnQ"
`},
		{"bad same_site", `
rememberme:
  secret: "c2FtcGxlLXNlY3JldC1yZXBsYWNlLW1lLXBsZWFzZQ"
cookie:
  same_site: Strict
`},
		{"redis without addr", `
rememberme:
  secret: "c2FtcGxlLXNlY3JldC1yZXBsYWNlLW1lLXBsZWFzZQ"
cache:
  backend: redis
`},
		{"rule without patterns", `
rememberme:
  secret: "c2FtcGxlLXNlY3JldC1yZXBsYWNlLW1lLXBsZWFzZQ"
security:
  protected:
    - roles: ["admin"]
`},
		{"pattern without slash", `
rememberme:
  secret: "c2FtcGxlLXNlY3JldC1yZXBsYWNlLW1lLXBsZWFzZQ"
security:
  protected:
    - patterns: ["admin/**"]
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.yaml))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_ProtectedRules(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Security.Protected) != 1 {
		t.Fatalf("rules = %d, want 1", len(cfg.Security.Protected))
	}
	rule := cfg.Security.Protected[0]
	if rule.Patterns[0] != "/admin/**" || rule.Roles[0] != "admin" {
		t.Errorf("rule = %+v", rule)
	}
}
