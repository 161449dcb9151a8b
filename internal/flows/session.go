package flows

import (
	"sync"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/secret"
	"github.com/MrEthical07/goMPin/status"
)

// flowContext is the shared part of the short-lived values handed out by
// Confirm/Start and consumed by Finish.
type flowContext struct {
	mu        sync.Mutex
	id        string
	userKey   string
	mpinIDHex string
	shares    secret.List
	consumed  bool
}

func (f *flowContext) wipe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shares.Wipe()
	f.shares = nil
	f.consumed = true
}

// take hands the shares to the caller, who becomes responsible for wiping
// them. A context can be taken once.
func (f *flowContext) take(u *identity.User, what string) (secret.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumed {
		return nil, status.Newf(status.FlowError, "%s session %s already used", what, f.id)
	}
	if f.userKey != u.Key() || f.mpinIDHex != u.MPinIDHex() {
		return nil, status.Newf(status.FlowError, "%s session %s belongs to another user", what, f.id)
	}
	shares := f.shares
	f.shares = nil
	f.consumed = true
	return shares, nil
}

// RegistrationSession carries the two client-secret shares between
// ConfirmRegistration and FinishRegistration.
type RegistrationSession struct {
	flowContext
}

// ID identifies the session in logs and audit events.
func (s *RegistrationSession) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Wipe overwrites the held shares. Safe on nil and repeatable.
func (s *RegistrationSession) Wipe() {
	if s == nil {
		return
	}
	s.wipe()
}

func (s *RegistrationSession) take(u *identity.User) (secret.List, error) {
	if s == nil {
		return nil, status.New(status.FlowError, "no registration session supplied")
	}
	return s.flowContext.take(u, "registration")
}

// Complete reports whether both shares are held.
func (s *RegistrationSession) Complete() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.consumed && s.shares.Complete(2)
}

// AuthenticationSession carries the time-permit shares and access code
// between StartAuthentication and FinishAuthentication.
type AuthenticationSession struct {
	flowContext
	accessCode string
	date       int
	usePermits bool
}

// ID identifies the session in logs and audit events.
func (s *AuthenticationSession) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Wipe overwrites the held shares. Safe on nil and repeatable.
func (s *AuthenticationSession) Wipe() {
	if s == nil {
		return
	}
	s.wipe()
}

func (s *AuthenticationSession) take(u *identity.User) (secret.List, error) {
	if s == nil {
		return nil, status.New(status.FlowError, "no authentication session supplied")
	}
	return s.flowContext.take(u, "authentication")
}

// AccessCode returns the access code the session was started with.
func (s *AuthenticationSession) AccessCode() string {
	if s == nil {
		return ""
	}
	return s.accessCode
}

// Date returns the authority date of the time permit, zero when permits are
// not in use.
func (s *AuthenticationSession) Date() int {
	if s == nil {
		return 0
	}
	return s.date
}
