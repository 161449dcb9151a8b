package transport

import (
	"net/url"
	"strings"

	"github.com/MrEthical07/goMPin/status"
)

// TrustGuard is an allow-list of hostnames. A request passes when it uses
// https and its host equals a listed domain or is a subdomain of one. The
// empty guard lets everything through.
type TrustGuard struct {
	domains []string
}

// NewTrustGuard normalizes domains to lower case without dots at either end.
func NewTrustGuard(domains []string) TrustGuard {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return TrustGuard{domains: out}
}

// Open reports whether the guard accepts any URL.
func (g TrustGuard) Open() bool {
	return len(g.domains) == 0
}

// Domains returns a copy of the allow-list.
func (g TrustGuard) Domains() []string {
	out := make([]string, len(g.domains))
	copy(out, g.domains)
	return out
}

// Check returns an UntrustedDomainError status for rejected URLs.
func (g TrustGuard) Check(rawURL string) error {
	if g.Open() {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return status.Newf(status.UntrustedDomainError, "invalid url %q", rawURL)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return status.New(status.UntrustedDomainError, "Request must be made over https")
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range g.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return status.New(status.UntrustedDomainError, "Not in trusted domains list")
}
