package goMPin

import (
	"github.com/MrEthical07/goMPin/internal/security"
	"github.com/MrEthical07/goMPin/internal/transport"
)

// SecurityReport summarizes how exposed the engine's current setup is.
// Warnings holds stable codes such as "trust_guard_open".
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return security.BuildReport(security.ReportInput{
		TrustedDomains: e.client.TrustedDomains(),
		Backend:        e.Backend(),
		HTTPTimeout:    e.client.HTTP.Timeout,
		CID:            e.client.Headers()[transport.HeaderCID],
		AuditEnabled:   e.audit != nil,
		AuditDropped:   e.AuditDropped(),
		MetricsEnabled: e.metrics.Enabled(),
		CheckURL:       e.client.CheckURL,
	})
}
