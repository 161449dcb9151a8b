package goMPin

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/goMPin/internal/audit"
	"github.com/MrEthical07/goMPin/internal/flows"
	"github.com/MrEthical07/goMPin/status"
)

const (
	auditEventBackendSet            = "backend_set"
	auditEventBackendFailed         = "backend_failed"
	auditEventRegistrationStarted   = "registration_started"
	auditEventRegistrationConfirmed = "registration_confirmed"
	auditEventRegistrationFinished  = "registration_finished"
	auditEventAuthStarted           = "authentication_started"
	auditEventAuthSuccess           = "authentication_success"
	auditEventAuthFailure           = "authentication_failure"
	auditEventUserBlocked           = "user_blocked"
	auditEventUserDeleted           = "user_deleted"
	auditEventLogout                = "logout"
	auditEventUntrustedDomain       = "untrusted_domain_rejected"
	auditEventStoreLoaded           = "store_loaded"
)

var flowEvents = flows.Events{
	RegistrationStarted:   auditEventRegistrationStarted,
	RegistrationConfirmed: auditEventRegistrationConfirmed,
	RegistrationFinished:  auditEventRegistrationFinished,
	AuthStarted:           auditEventAuthStarted,
	AuthSuccess:           auditEventAuthSuccess,
	AuthFailure:           auditEventAuthFailure,
	UserBlocked:           auditEventUserBlocked,
	Logout:                auditEventLogout,
}

// emitAudit records one event. u may be nil for engine-level events. The
// error message is kept only for local failures; remote messages come from
// the server body and may echo user input.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	u *User,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		CorrelationID: correlationIDFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if u != nil {
		event.UserID = u.ID()
		event.Backend = u.Backend()
		event.MPinID = u.MPinIDHex()
	} else {
		event.Backend = e.BackendKey()
	}
	if err != nil {
		code := status.CodeOf(err)
		event.Status = code.String()
		if code.Local() {
			event.Error = status.MessageOf(err)
		}
	}

	e.audit.Emit(ctx, event)
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

var _ internalaudit.Sink = NoOpSink{}
