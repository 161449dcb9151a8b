package flows

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/secret"
	"github.com/MrEthical07/goMPin/status"
)

// wid value sent when no access code is involved.
const noAccessCode = "0"

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	// Pass2 is the authentication server's pass-2 response, forwarded to
	// the relying party. It carries the OTP when one was requested.
	Pass2 json.RawMessage
	// Body is the relying party's response body.
	Body []byte
}

type codeStatusBody struct {
	Status string `json:"status"`
	WID    string `json:"wid"`
	UserID string `json:"userId,omitempty"`
}

// RunStartAuthentication prepares an authentication of u. When an access
// code is supplied and the backend tracks code status, the backend is told
// which user picked the code up; that call's outcome is ignored. When time
// permits are enabled both shares are acquired. The access code itself is
// not validated here; a wrong code is rejected by the relying party at
// finish.
func RunStartAuthentication(ctx context.Context, u *identity.User, accessCode string, deps Deps) (*AuthenticationSession, error) {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return nil, err
	}
	cs := deps.Settings

	if accessCode != "" && cs.CodeStatusURL != "" {
		if _, err := deps.Client.Do(ctx, http.MethodPost, cs.CodeStatusURL, codeStatusBody{Status: "user", WID: accessCode, UserID: u.ID()}); err != nil {
			deps.Warn("goMPin: code status notify for user %s failed: %v", u.ID(), err)
		}
	}

	sess := &AuthenticationSession{
		flowContext: flowContext{
			id:        deps.NewID(),
			userKey:   u.Key(),
			mpinIDHex: u.MPinIDHex(),
		},
		accessCode: accessCode,
		usePermits: cs.UsePermits,
	}

	if cs.UsePermits {
		tp, err := RunAcquireTimePermit(ctx, u, deps)
		if err != nil {
			deps.EmitAudit(ctx, deps.Events.AuthStarted, false, u, err, nil)
			return nil, err
		}
		sess.shares = tp.Shares
		sess.date = tp.Date
	}

	deps.EmitAudit(ctx, deps.Events.AuthStarted, true, u, nil, func() map[string]string {
		return map[string]string{"session_id": sess.id, "access_code": boolString(accessCode != "")}
	})
	return sess, nil
}

type pass1Body struct {
	Pass   int    `json:"pass"`
	MPinID string `json:"mpin_id"`
	UT     string `json:"UT"`
	U      string `json:"U"`
}

type pass1Response struct {
	Y string `json:"y"`
}

type pass2Body struct {
	Pass   int    `json:"pass"`
	OTP    bool   `json:"OTP"`
	WID    string `json:"WID"`
	V      string `json:"V"`
	MPinID string `json:"mpin_id"`
}

type rpaBody struct {
	MPinResponse json.RawMessage `json:"mpinResponse"`
}

// RunFinishAuthentication runs the two-pass exchange with the
// authentication server and forwards the proof to the relying party. A
// relying-party answer that the credential is gone blocks u and erases its
// secret before the error is returned. sess is wiped on return and the
// crypto session is always closed.
func RunFinishAuthentication(ctx context.Context, u *identity.User, sess *AuthenticationSession, pin *secret.Bytes, requestOTP bool, deps Deps) (*AuthResult, error) {
	defer sess.Wipe()
	deps.defaults()
	if err := deps.readyCrypto(); err != nil {
		return nil, err
	}

	accessCode := sess.AccessCode()
	date := sess.Date()
	shares, err := sess.take(u)
	if err != nil {
		return nil, err
	}
	defer shares.Wipe()

	if sess.usePermits && !shares.Complete(2) {
		return nil, status.New(status.FlowError, "Invalid time permit")
	}

	start := deps.Now()
	res, err := finishAuthentication(ctx, u, pin, date, shares, accessCode, requestOTP, deps)
	deps.ObserveLatency(deps.Now().Sub(start))
	if err != nil {
		deps.MetricInc(deps.Metrics.AuthFailure)
		deps.EmitAudit(ctx, deps.Events.AuthFailure, false, u, err, func() map[string]string {
			return map[string]string{"session_id": sess.id}
		})
		return nil, err
	}

	deps.MetricInc(deps.Metrics.AuthSuccess)
	deps.EmitAudit(ctx, deps.Events.AuthSuccess, true, u, nil, func() map[string]string {
		return map[string]string{"session_id": sess.id}
	})
	return res, nil
}

func finishAuthentication(ctx context.Context, u *identity.User, pin *secret.Bytes, date int, shares secret.List, accessCode string, requestOTP bool, deps Deps) (*AuthResult, error) {
	cs := deps.Settings

	if err := deps.Crypto.OpenSession(); err != nil {
		return nil, status.Newf(status.CryptoError, "open crypto session: %v", err)
	}
	defer deps.Crypto.CloseSession()

	commitU, commitUT, err := deps.Crypto.AuthenticatePass1(u, pin.Bytes(), date, shares.Raw())
	if err != nil {
		return nil, cryptoStatus(err)
	}

	authBase := strings.TrimRight(cs.MPinAuthServerURL, "/")
	var p1 pass1Response
	if _, err := deps.Client.Call(ctx, status.StepPass1, http.MethodPost, authBase+"/pass1", pass1Body{
		Pass:   1,
		MPinID: u.MPinIDHex(),
		UT:     hex.EncodeToString(commitUT),
		U:      hex.EncodeToString(commitU),
	}, &p1); err != nil {
		return nil, err
	}
	challenge, err := hex.DecodeString(p1.Y)
	if err != nil || len(challenge) == 0 {
		return nil, status.New(status.ResponseParseError, "invalid pass 1 challenge")
	}

	proofV, err := deps.Crypto.AuthenticatePass2(u, challenge)
	if err != nil {
		return nil, cryptoStatus(err)
	}

	wid := accessCode
	if wid == "" {
		wid = noAccessCode
	}
	var pass2 json.RawMessage
	if _, err := deps.Client.Call(ctx, status.StepPass2, http.MethodPost, authBase+"/pass2", pass2Body{
		Pass:   2,
		OTP:    requestOTP,
		WID:    wid,
		V:      hex.EncodeToString(proofV),
		MPinID: u.MPinIDHex(),
	}, &pass2); err != nil {
		return nil, err
	}

	rpaURL := cs.AuthenticateURL
	if accessCode != "" && cs.MobileAuthenticateURL != "" {
		rpaURL = cs.MobileAuthenticateURL
	}
	res, err := deps.Client.Call(ctx, status.StepAuthenticateRPA, http.MethodPost, rpaURL, rpaBody{MPinResponse: pass2}, nil)
	if err != nil {
		if res != nil && status.Blocks(status.StepAuthenticateRPA, res.StatusCode) {
			blockUser(ctx, u, deps)
		}
		return nil, err
	}

	return &AuthResult{Pass2: pass2, Body: res.Body}, nil
}

// blockUser applies the relying party's instruction that the credential is
// gone. Failures here are logged; the caller still sees the remote status.
func blockUser(ctx context.Context, u *identity.User, deps Deps) {
	mpinIDHex := u.MPinIDHex()
	u.Block()
	if err := deps.Crypto.DeleteToken(mpinIDHex); err != nil {
		deps.Warn("goMPin: delete token of blocked user %s failed: %v", u.ID(), err)
	}
	if err := deps.Persist(ctx); err != nil {
		deps.Warn("goMPin: persist blocked user %s failed: %v", u.ID(), err)
	}
	deps.MetricInc(deps.Metrics.UserBlocked)
	deps.EmitAudit(ctx, deps.Events.UserBlocked, true, u, nil, nil)
}
