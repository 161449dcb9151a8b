package goMPin

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	hs := HighSecurityConfig("example.com")
	if err := hs.Validate(); err != nil {
		t.Fatalf("high security config invalid: %v", err)
	}
	if !hs.Audit.Enabled || len(hs.TrustedDomains) != 1 {
		t.Fatalf("unexpected high security config %+v", hs)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty prefix":          func(c *Config) { c.RPSPrefix = "" },
		"prefix with query":     func(c *Config) { c.RPSPrefix = "rps?x" },
		"zero timeout":          func(c *Config) { c.HTTPTimeout = 0 },
		"zero body limit":       func(c *Config) { c.MaxResponseBytes = 0 },
		"negative audit buffer": func(c *Config) { c.Audit.BufferSize = -1 },
		"latency without metrics": func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.EnableLatencyHistograms = true
		},
		"header injection":   func(c *Config) { c.CustomHeaders = map[string]string{"X-A": "v\r\nX-B: w"} },
		"bad header name":    func(c *Config) { c.CustomHeaders = map[string]string{"X A": "v"} },
		"cid injection":      func(c *Config) { c.CID = "a\nb" },
		"domain with scheme": func(c *Config) { c.TrustedDomains = []string{"https://example.com"} },
		"blank domain":       func(c *Config) { c.TrustedDomains = []string{" . "} },
		"relative backend":   func(c *Config) { c.Backend = "/rps" },
		"non http backend":   func(c *Config) { c.Backend = "ftp://example.com" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestCloneConfigIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomHeaders = map[string]string{"X-A": "1"}
	cfg.TrustedDomains = []string{"example.com"}

	clone := cloneConfig(cfg)
	clone.CustomHeaders["X-A"] = "2"
	clone.TrustedDomains[0] = "evil.test"

	if cfg.CustomHeaders["X-A"] != "1" || cfg.TrustedDomains[0] != "example.com" {
		t.Fatalf("clone shares state with original")
	}
}

func containsCode(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}

func TestConfigLint_DefaultsWarn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "http://localhost:8005"

	codes := cfg.Lint().Codes()
	for _, want := range []string{"trust_guard_open", "backend_not_https", "audit_disabled"} {
		if !containsCode(codes, want) {
			t.Fatalf("expected %s in %v", want, codes)
		}
	}
}

func TestConfigLint_HighSecurityIsQuiet(t *testing.T) {
	cfg := HighSecurityConfig("example.com")
	cfg.Backend = "https://auth.example.com"

	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %v", ws.Codes())
	}
}

func TestConfigLint_Specifics(t *testing.T) {
	cfg := HighSecurityConfig("example.com")
	cfg.HTTPTimeout = 5 * time.Minute
	cfg.Audit.DropIfFull = false
	cfg.CustomHeaders = map[string]string{"user-agent": "x"}

	ws := cfg.Lint()
	codes := ws.Codes()
	for _, want := range []string{"http_timeout_long", "audit_blocking", "header_reserved"} {
		if !containsCode(codes, want) {
			t.Fatalf("expected %s in %v", want, codes)
		}
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] > codes[i] {
			t.Fatalf("codes not sorted: %v", codes)
		}
	}
	for _, w := range ws {
		if w.Message == "" {
			t.Fatalf("warning %s has no message", w.Code)
		}
	}
}
