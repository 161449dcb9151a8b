package goMPin

import (
	"context"

	"github.com/MrEthical07/goMPin/authresult"
	"github.com/MrEthical07/goMPin/internal/flows"
	"github.com/MrEthical07/goMPin/secret"
	"github.com/MrEthical07/goMPin/status"
)

// StartAuthentication prepares an authentication of a Registered user.
// When the backend uses time permits both shares are fetched here, using
// the cached permit when it is current. accessCode is the code shown by a
// web login page, or empty; it is not checked until the finish step.
func (e *Engine) StartAuthentication(ctx context.Context, u *User, accessCode string) (*AuthenticationSession, error) {
	deps, _, err := e.deps()
	if err != nil {
		return nil, err
	}
	if err := e.checkState(u, StateRegistered); err != nil {
		return nil, err
	}
	sess, err := flows.RunStartAuthentication(ctx, u, accessCode, deps)
	return sess, e.observe(ctx, err)
}

// FinishAuthentication proves knowledge of pin and returns the relying
// party's response body. A relying party answer that the credential is gone
// leaves u Blocked with its secret erased.
//
// sess is wiped and pin is zeroed before returning.
func (e *Engine) FinishAuthentication(ctx context.Context, u *User, sess *AuthenticationSession, pin []byte) ([]byte, error) {
	res, err := e.finishAuthentication(ctx, u, sess, pin, false)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// FinishAuthenticationOTP authenticates and returns the one-time passcode
// issued by the authentication server.
func (e *Engine) FinishAuthenticationOTP(ctx context.Context, u *User, sess *AuthenticationSession, pin []byte) (OTP, error) {
	res, err := e.finishAuthentication(ctx, u, sess, pin, true)
	if err != nil {
		return OTP{}, err
	}
	return authresult.ExtractOTP(res.Pass2, res.Body)
}

// FinishAuthenticationAN authenticates a web session identified by the
// access code the session was started with.
func (e *Engine) FinishAuthenticationAN(ctx context.Context, u *User, sess *AuthenticationSession, pin []byte) error {
	if sess.AccessCode() == "" {
		secret.Zero(pin)
		sess.Wipe()
		return errAccessCodeEmpty
	}
	_, err := e.finishAuthentication(ctx, u, sess, pin, false)
	return err
}

// FinishAuthenticationMFA authenticates and returns the authorization code
// the relying party issued.
func (e *Engine) FinishAuthenticationMFA(ctx context.Context, u *User, sess *AuthenticationSession, pin []byte) (string, error) {
	res, err := e.finishAuthentication(ctx, u, sess, pin, false)
	if err != nil {
		return "", err
	}
	return authresult.AuthzCode(res.Body)
}

// FinishAuthenticationSession authenticates and returns the relying
// party's session token with its claims, verified by the manager passed to
// Builder.WithSessionVerifier. The claims must name u and its mpin id.
func (e *Engine) FinishAuthenticationSession(ctx context.Context, u *User, sess *AuthenticationSession, pin []byte) (string, *SessionClaims, error) {
	if e != nil && e.sessions == nil {
		secret.Zero(pin)
		sess.Wipe()
		return "", nil, errNoVerifier
	}
	res, err := e.finishAuthentication(ctx, u, sess, pin, false)
	if err != nil {
		return "", nil, err
	}
	token, ok := authresult.SessionToken(res.Body)
	if !ok {
		return "", nil, status.New(status.ResponseParseError, "session token not issued")
	}
	claims, err := e.sessions.Parse(token)
	if err != nil {
		return "", nil, status.Newf(status.ResponseParseError, "session token: %v", err)
	}
	if claims.UserID != u.ID() || claims.MPinID != u.MPinIDHex() {
		return "", nil, status.New(status.ResponseParseError, "session token issued for another identity")
	}
	return token, claims, nil
}

func (e *Engine) finishAuthentication(ctx context.Context, u *User, sess *AuthenticationSession, pin []byte, requestOTP bool) (*flows.AuthResult, error) {
	defer secret.Zero(pin)
	defer sess.Wipe()

	deps, _, err := e.deps()
	if err != nil {
		return nil, err
	}
	if err := e.checkState(u, StateRegistered); err != nil {
		return nil, err
	}
	if len(pin) == 0 {
		return nil, errPinCanceled
	}

	p := secret.New(pin)
	defer p.Wipe()
	res, err := flows.RunFinishAuthentication(ctx, u, sess, p, requestOTP, deps)
	if err != nil {
		return nil, e.observe(ctx, err)
	}
	e.recordLogout(u, res.Body)
	return res, nil
}

func (e *Engine) recordLogout(u *User, body []byte) {
	lo, ok := authresult.ExtractLogout(body)
	if !ok {
		return
	}
	e.mu.Lock()
	e.logoutData[u.Key()] = flows.LogoutData{URL: lo.URL, Data: lo.Data}
	e.mu.Unlock()
}

// CheckAccessNumber validates the check digit of an access number against
// the active backend's numbering scheme.
func (e *Engine) CheckAccessNumber(accessNumber string) error {
	e.mu.RLock()
	cs := e.settings
	e.mu.RUnlock()
	if cs == nil {
		return errBackendNotSet
	}
	if !flows.ValidAccessNumber(accessNumber, *cs) {
		return status.New(status.IncorrectAccessNumber, "Invalid access number")
	}
	return nil
}

// CanLogout reports whether the relying party advertised a logout for u's
// last session.
func (e *Engine) CanLogout(u *User) bool {
	if u == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.logoutData[u.Key()]
	return ok
}

// Logout replays the logout payload recorded for u. The payload is dropped
// once the backend accepts it, so a failed logout can be retried.
func (e *Engine) Logout(ctx context.Context, u *User) error {
	deps, _, err := e.deps()
	if err != nil {
		return err
	}
	if u == nil {
		return errUserNil
	}
	key := u.Key()
	e.mu.RLock()
	data, ok := e.logoutData[key]
	e.mu.RUnlock()
	if !ok {
		return status.Newf(status.FlowError, "No logout data for user '%s'", u.ID())
	}

	if err := flows.RunLogout(ctx, deps.Backend, data, deps); err != nil {
		err = e.observe(ctx, err)
		e.emitAudit(ctx, auditEventLogout, false, u, err, nil)
		return err
	}

	e.mu.Lock()
	delete(e.logoutData, key)
	e.mu.Unlock()
	e.emitAudit(ctx, auditEventLogout, true, u, nil, nil)
	return nil
}
