package security

import (
	"net/url"
	"strings"
	"time"
)

const (
	WarnTrustGuardOpen  = "trust_guard_open"
	WarnBackendNotHTTPS = "backend_not_https"
	WarnBackendUnset    = "backend_unset"
	WarnNoTimeout       = "http_timeout_unbounded"
	WarnAuditDisabled   = "audit_disabled"
	WarnAuditDropping   = "audit_dropping_events"
)

type Report struct {
	TrustGuardActive bool
	TrustedDomains   []string
	Backend          string
	BackendHTTPS     bool
	BackendTrusted   bool
	HTTPTimeout      time.Duration
	CIDSet           bool
	AuditEnabled     bool
	AuditDropped     uint64
	MetricsEnabled   bool
	Warnings         []string
}

type ReportInput struct {
	TrustedDomains []string
	Backend        string
	HTTPTimeout    time.Duration
	CID            string
	AuditEnabled   bool
	AuditDropped   uint64
	MetricsEnabled bool
	// CheckURL applies the live trust guard; nil treats every URL as
	// trusted.
	CheckURL func(string) error
}

func BuildReport(input ReportInput) Report {
	r := Report{
		TrustGuardActive: len(input.TrustedDomains) > 0,
		TrustedDomains:   append([]string(nil), input.TrustedDomains...),
		Backend:          input.Backend,
		HTTPTimeout:      input.HTTPTimeout,
		CIDSet:           input.CID != "",
		AuditEnabled:     input.AuditEnabled,
		AuditDropped:     input.AuditDropped,
		MetricsEnabled:   input.MetricsEnabled,
	}

	if input.Backend != "" {
		if u, err := url.Parse(input.Backend); err == nil {
			r.BackendHTTPS = strings.EqualFold(u.Scheme, "https")
		}
		r.BackendTrusted = input.CheckURL == nil || input.CheckURL(input.Backend) == nil
	}

	if !r.TrustGuardActive {
		r.Warnings = append(r.Warnings, WarnTrustGuardOpen)
	}
	switch {
	case input.Backend == "":
		r.Warnings = append(r.Warnings, WarnBackendUnset)
	case !r.BackendHTTPS:
		r.Warnings = append(r.Warnings, WarnBackendNotHTTPS)
	}
	if input.HTTPTimeout <= 0 {
		r.Warnings = append(r.Warnings, WarnNoTimeout)
	}
	if !input.AuditEnabled {
		r.Warnings = append(r.Warnings, WarnAuditDisabled)
	} else if input.AuditDropped > 0 {
		r.Warnings = append(r.Warnings, WarnAuditDropping)
	}
	return r
}
