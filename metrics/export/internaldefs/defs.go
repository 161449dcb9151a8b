package internaldefs

import (
	goMPin "github.com/MrEthical07/goMPin"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   goMPin.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   goMPin.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goMPin.MetricRegistrationStarted, Name: "gompin_registration_started_total", Help: "Accepted registration requests, new and restarted."},
	{ID: goMPin.MetricRegistrationConfirmed, Name: "gompin_registration_confirmed_total", Help: "Client secret share pairs fetched."},
	{ID: goMPin.MetricRegistrationFinished, Name: "gompin_registration_finished_total", Help: "Users moved to the registered state."},
	{ID: goMPin.MetricAuthSuccess, Name: "gompin_auth_success_total", Help: "Successful authentications."},
	{ID: goMPin.MetricAuthFailure, Name: "gompin_auth_failure_total", Help: "Failed authentications."},
	{ID: goMPin.MetricUserBlocked, Name: "gompin_user_blocked_total", Help: "Users blocked after a relying party answer."},
	{ID: goMPin.MetricTimePermitCacheHit, Name: "gompin_time_permit_cache_hit_total", Help: "Time permits served from the user's cache."},
	{ID: goMPin.MetricTimePermitStoreHit, Name: "gompin_time_permit_store_hit_total", Help: "Time permits fetched from the permit store."},
	{ID: goMPin.MetricTimePermitAuthority, Name: "gompin_time_permit_authority_total", Help: "Time permits fetched from the signing authority."},
	{ID: goMPin.MetricUntrustedDomain, Name: "gompin_untrusted_domain_total", Help: "Requests refused by the trust guard."},
	{ID: goMPin.MetricHTTPError, Name: "gompin_http_error_total", Help: "Non-200 answers and transport failures."},
	{ID: goMPin.MetricLogout, Name: "gompin_logout_total", Help: "Successful logouts."},
	{ID: goMPin.MetricUserDeleted, Name: "gompin_user_deleted_total", Help: "Users deleted locally."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goMPin.MetricAuthLatency, Name: "gompin_auth_latency_seconds", Help: "FinishAuthentication latency."},
}

// AuditDroppedName is the counter for events the audit dispatcher dropped.
const AuditDroppedName = "gompin_audit_dropped_total"

// HistogramBounds are the bucket upper bounds in Prometheus "le" form.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundValues are HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix are HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
