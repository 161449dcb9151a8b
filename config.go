package goMPin

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goMPin/internal/settings"
)

// Config is the engine configuration. Build validates it once; it is not
// consulted for changes afterwards.
type Config struct {
	// Backend, when set, is applied by Build as if SetBackend were called.
	Backend string
	// RPSPrefix is the path segment in front of clientSettings.
	RPSPrefix string

	// CustomHeaders are merged into every request.
	CustomHeaders map[string]string
	// CID is sent as X-MIRACL-CID and survives ClearCustomHeaders.
	CID string
	// TrustedDomains restricts outbound requests to https on these hosts
	// and their subdomains. Empty means any host.
	TrustedDomains []string

	HTTPTimeout      time.Duration
	MaxResponseBytes int64
	UserAgent        string

	Audit   AuditConfig
	Metrics MetricsConfig
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a config suitable for development. It trusts every
// domain; see HighSecurityConfig for a locked-down preset.
func DefaultConfig() Config {
	return Config{
		RPSPrefix:        settings.DefaultPrefix,
		HTTPTimeout:      30 * time.Second,
		MaxResponseBytes: 1 << 20,
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// HighSecurityConfig restricts requests to the given domains, enables
// auditing and uses a shorter request timeout.
func HighSecurityConfig(trustedDomains ...string) Config {
	cfg := DefaultConfig()
	cfg.TrustedDomains = append([]string(nil), trustedDomains...)
	cfg.HTTPTimeout = 10 * time.Second
	cfg.Audit.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.CustomHeaders != nil {
		out.CustomHeaders = make(map[string]string, len(cfg.CustomHeaders))
		for k, v := range cfg.CustomHeaders {
			out.CustomHeaders[k] = v
		}
	}
	out.TrustedDomains = append([]string(nil), cfg.TrustedDomains...)
	return out
}

// Validate reports the first configuration error, wrapped in
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.RPSPrefix == "" || strings.ContainsAny(c.RPSPrefix, " ?#") {
		return fmt.Errorf("%w: RPSPrefix %q is not a path segment", ErrInvalidConfig, c.RPSPrefix)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: HTTPTimeout must be > 0", ErrInvalidConfig)
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("%w: MaxResponseBytes must be > 0", ErrInvalidConfig)
	}
	if c.Audit.BufferSize < 0 {
		return fmt.Errorf("%w: Audit BufferSize must be >= 0", ErrInvalidConfig)
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return fmt.Errorf("%w: latency histograms require metrics", ErrInvalidConfig)
	}

	for k, v := range c.CustomHeaders {
		if !validHeader(k, v) {
			return fmt.Errorf("%w: custom header %q is not a valid HTTP header", ErrInvalidConfig, k)
		}
	}
	if !validHeader("X-MIRACL-CID", c.CID) {
		return fmt.Errorf("%w: CID contains control characters", ErrInvalidConfig)
	}
	for _, d := range c.TrustedDomains {
		if strings.Trim(strings.TrimSpace(d), ".") == "" || strings.ContainsAny(d, "/: ") {
			return fmt.Errorf("%w: trusted domain %q is not a hostname", ErrInvalidConfig, d)
		}
	}

	if c.Backend != "" {
		u, err := url.Parse(c.Backend)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: Backend %q is not an absolute http(s) URL", ErrInvalidConfig, c.Backend)
		}
	}
	return nil
}

func validHeader(name, value string) bool {
	if name == "" || strings.ContainsAny(name, " \t\r\n:") {
		return false
	}
	return !strings.ContainsAny(value, "\r\n")
}

// LintWarning is a configuration smell that Validate accepts.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Lint, ordered by code.
type LintWarnings []LintWarning

// Codes returns the warning codes.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// reservedHeaders are set by the transport on every request.
var reservedHeaders = []string{"Content-Type", "Accept", "User-Agent", "X-Request-Id"}

// Lint reports settings that are valid but weaken the deployment.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if len(c.TrustedDomains) == 0 {
		add("trust_guard_open", "no trusted domains configured; requests may go to any host over any scheme")
	}
	if c.Backend != "" && !strings.HasPrefix(strings.ToLower(c.Backend), "https://") {
		add("backend_not_https", "backend %s is not served over https", c.Backend)
	}
	if c.HTTPTimeout > time.Minute {
		add("http_timeout_long", "HTTPTimeout %s keeps PIN-bearing sessions open for long", c.HTTPTimeout)
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "audit events are not recorded")
	} else if !c.Audit.DropIfFull {
		add("audit_blocking", "a slow audit sink will stall authentication")
	}
	for k := range c.CustomHeaders {
		for _, r := range reservedHeaders {
			if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(r) {
				add("header_reserved", "custom header %s is overwritten by the transport", k)
			}
		}
	}

	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Code < ws[j].Code })
	return ws
}
