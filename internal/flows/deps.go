package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/internal/settings"
	"github.com/MrEthical07/goMPin/internal/transport"
	"github.com/MrEthical07/goMPin/status"
)

// Caller sends one protocol request. *transport.Client implements it.
type Caller interface {
	Call(ctx context.Context, step status.Step, method, rawURL string, body, out any) (*transport.Response, error)
	Do(ctx context.Context, method, rawURL string, body any) (*transport.Response, error)
}

// Crypto is the subset of the crypto engine the flows drive. Every
// PIN-touching call is bracketed by OpenSession and CloseSession.
type Crypto interface {
	OpenSession() error
	CloseSession()
	Register(u *identity.User, pin []byte, clientSecretShares [][]byte) error
	AuthenticatePass1(u *identity.User, pin []byte, date int, timePermitShares [][]byte) (commitmentU, commitmentUT []byte, err error)
	AuthenticatePass2(u *identity.User, challenge []byte) (proofV []byte, err error)
	DeleteToken(mpinIDHex string) error
	SaveRegOTT(mpinIDHex, regOTT string) error
	DeleteRegOTT(mpinIDHex string) error
}

// Metrics carries metric IDs used by the flows.
type Metrics struct {
	RegistrationStarted   int
	RegistrationConfirmed int
	RegistrationFinished  int
	AuthSuccess           int
	AuthFailure           int
	UserBlocked           int
	TimePermitCacheHit    int
	TimePermitStoreHit    int
	TimePermitAuthority   int
	Logout                int
}

// Events carries audit event names used by the flows.
type Events struct {
	RegistrationStarted   string
	RegistrationConfirmed string
	RegistrationFinished  string
	AuthStarted           string
	AuthSuccess           string
	AuthFailure           string
	UserBlocked           string
	Logout                string
}

// Deps captures everything a flow needs. The Engine builds one per call
// with a snapshot of the active client settings.
type Deps struct {
	Client   Caller
	Crypto   Crypto
	Settings settings.ClientSettings
	Backend  string

	Track   func(*identity.User)
	Untrack func(*identity.User)
	Persist func(context.Context) error
	NewID   func() string
	Now     func() time.Time

	MetricInc      func(int)
	ObserveLatency func(time.Duration)
	EmitAudit      func(ctx context.Context, event string, success bool, u *identity.User, err error, metadata func() map[string]string)
	Warn           func(string, ...any)

	Metrics Metrics
	Events  Events
}

func (d *Deps) defaults() {
	if d.Track == nil {
		d.Track = func(*identity.User) {}
	}
	if d.Untrack == nil {
		d.Untrack = func(*identity.User) {}
	}
	if d.Persist == nil {
		d.Persist = func(context.Context) error { return nil }
	}
	if d.NewID == nil {
		d.NewID = func() string { return "" }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.ObserveLatency == nil {
		d.ObserveLatency = func(time.Duration) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, string, bool, *identity.User, error, func() map[string]string) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...any) {}
	}
}

func (d *Deps) ready() error {
	if d.Client == nil {
		return status.New(status.FlowError, "engine not initialized")
	}
	return nil
}

func (d *Deps) readyCrypto() error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.Crypto == nil {
		return status.New(status.CryptoError, "no crypto engine configured")
	}
	return nil
}

// persistOrRevert writes the identity set. When the write fails u goes back
// to prev, leaves tracking if prev was Invalid, and the token store is put
// back the way prev needs it.
func persistOrRevert(ctx context.Context, u *identity.User, prev identity.Snapshot, deps Deps) error {
	err := deps.Persist(ctx)
	if err == nil {
		return nil
	}

	staged := u.MPinIDHex()
	if rerr := u.Revert(prev); rerr != nil {
		deps.Warn("goMPin: revert user %s failed: %v", u.ID(), rerr)
	}
	if prev.State == identity.Invalid {
		deps.Untrack(u)
	}
	if deps.Crypto == nil {
		return err
	}
	if staged != "" && staged != prev.MPinIDHex {
		if derr := deps.Crypto.DeleteRegOTT(staged); derr != nil {
			deps.Warn("goMPin: drop staged registration token of user %s failed: %v", u.ID(), derr)
		}
	}
	if required, _ := prev.State.RequiresRegOTT(); required {
		if serr := deps.Crypto.SaveRegOTT(prev.MPinIDHex, prev.RegOTT); serr != nil {
			deps.Warn("goMPin: restore registration token of user %s failed: %v", u.ID(), serr)
		}
	}
	return err
}
