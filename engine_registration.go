package goMPin

import (
	"context"

	"github.com/MrEthical07/goMPin/internal/flows"
	"github.com/MrEthical07/goMPin/secret"
	"github.com/MrEthical07/goMPin/status"
)

// MakeNewUser returns an Invalid user. It is not tracked until
// StartRegistration succeeds.
func (e *Engine) MakeNewUser(id, deviceName string) *User {
	return newUser(id, deviceName)
}

// StartRegistration registers u with the active backend. u must be Invalid
// and no user with the same id may be tracked on that backend. On success u
// is tracked and persisted in StartedRegistration, or in Activated when the
// backend activates it straight away.
func (e *Engine) StartRegistration(ctx context.Context, u *User, req RegistrationRequest) error {
	deps, backendKey, err := e.deps()
	if err != nil {
		return err
	}
	if err := e.checkState(u, StateInvalid); err != nil {
		return err
	}
	if u.ID() == "" {
		return status.New(status.FlowError, "User id is empty")
	}

	u.SetBackend(backendKey)
	if req.DeviceName == "" {
		req.DeviceName = u.DeviceName()
	}
	return e.observe(ctx, flows.RunStartRegistration(ctx, u, req, deps))
}

// RestartRegistration resubmits the registration of a StartedRegistration
// user to obtain a fresh registration token. userData is forwarded as is.
func (e *Engine) RestartRegistration(ctx context.Context, u *User, userData string) error {
	deps, _, err := e.deps()
	if err != nil {
		return err
	}
	if err := e.checkState(u, StateStartedRegistration); err != nil {
		return err
	}
	req := RegistrationRequest{DeviceName: u.DeviceName(), UserData: userData}
	return e.observe(ctx, flows.RunStartRegistration(ctx, u, req, deps))
}

// ConfirmRegistration fetches the two client-secret shares once the user's
// identity has been verified out of band. The returned session must be
// handed to FinishRegistration; call Wipe on it if registration is
// abandoned.
func (e *Engine) ConfirmRegistration(ctx context.Context, u *User, pushToken string) (*RegistrationSession, error) {
	deps, _, err := e.deps()
	if err != nil {
		return nil, err
	}
	if err := e.checkEitherState(u, StateStartedRegistration, StateActivated); err != nil {
		return nil, err
	}
	sess, err := flows.RunConfirmRegistration(ctx, u, pushToken, deps)
	return sess, e.observe(ctx, err)
}

// FinishRegistration derives the user's long-term secret from the session's
// shares and pin, and moves u to Registered.
//
// sess is wiped and pin is zeroed before FinishRegistration returns, on
// every path. An empty pin is reported as PinInputCanceled.
func (e *Engine) FinishRegistration(ctx context.Context, u *User, sess *RegistrationSession, pin []byte) error {
	defer secret.Zero(pin)
	defer sess.Wipe()

	deps, _, err := e.deps()
	if err != nil {
		return err
	}
	if err := e.checkEitherState(u, StateStartedRegistration, StateActivated); err != nil {
		return err
	}
	if len(pin) == 0 {
		return errPinCanceled
	}

	p := secret.New(pin)
	defer p.Wipe()
	return e.observe(ctx, flows.RunFinishRegistration(ctx, u, sess, p, deps))
}
