package flows

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/secret"
	"github.com/MrEthical07/goMPin/status"
)

// RegistrationRequest is the identity metadata sent when a registration
// starts. Every field except the user id is optional.
type RegistrationRequest struct {
	DeviceName   string
	ActivateCode string
	AccessCode   string
	PushToken    string
	UserData     string
}

type registerBody struct {
	UserID       string `json:"userId"`
	Mobile       int    `json:"mobile"`
	DeviceName   string `json:"deviceName,omitempty"`
	UserData     string `json:"userData,omitempty"`
	ActivateCode string `json:"activateCode,omitempty"`
	WID          string `json:"wid,omitempty"`
	PushToken    string `json:"pushToken,omitempty"`
	RegOTT       string `json:"regOTT,omitempty"`
}

type registerResponse struct {
	MPinID     string `json:"mpinId"`
	RegOTT     string `json:"regOTT"`
	Active     bool   `json:"active"`
	CustomerID string `json:"customerId"`
	AppID      string `json:"appId"`
}

// RunStartRegistration registers u with the backend. An Invalid user becomes
// tracked and moves to StartedRegistration; a user already in
// StartedRegistration resubmits its registration token and takes over any
// new handle/token pair. Users the backend flags active move to Activated.
func RunStartRegistration(ctx context.Context, u *identity.User, req RegistrationRequest, deps Deps) error {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return err
	}

	body := registerBody{
		UserID:       u.ID(),
		Mobile:       1,
		DeviceName:   req.DeviceName,
		UserData:     req.UserData,
		ActivateCode: req.ActivateCode,
		WID:          req.AccessCode,
		PushToken:    req.PushToken,
	}
	endpoint := deps.Settings.RegisterURL
	isNew := u.State() == identity.Invalid
	if !isNew {
		endpoint = strings.TrimRight(endpoint, "/") + "/" + u.MPinIDHex()
		body.RegOTT = u.RegOTT()
	}

	var res registerResponse
	if _, err := deps.Client.Call(ctx, status.StepRegister, http.MethodPut, endpoint, body, &res); err != nil {
		deps.EmitAudit(ctx, deps.Events.RegistrationStarted, false, u, err, nil)
		return err
	}
	if res.MPinID == "" || res.RegOTT == "" {
		err := status.New(status.ResponseParseError, "registration response lacks mpinId or regOTT")
		deps.EmitAudit(ctx, deps.Events.RegistrationStarted, false, u, err, nil)
		return err
	}

	prev := u.Snapshot()
	changed := isNew || u.Changed(res.MPinID, res.RegOTT)
	if changed {
		if err := u.SetStartedRegistration(res.MPinID, res.RegOTT, res.CustomerID, res.AppID); err != nil {
			return status.Newf(status.ResponseParseError, "registration response: %v", err)
		}
	}
	if isNew {
		deps.Track(u)
	}
	if res.Active {
		u.SetActivated()
	}
	if changed || res.Active {
		if err := persistOrRevert(ctx, u, prev, deps); err != nil {
			deps.EmitAudit(ctx, deps.Events.RegistrationStarted, false, u, err, nil)
			return err
		}
	}
	if !isNew && prev.MPinIDHex != u.MPinIDHex() && deps.Crypto != nil {
		if err := deps.Crypto.DeleteRegOTT(prev.MPinIDHex); err != nil {
			deps.Warn("goMPin: drop superseded registration token of user %s failed: %v", u.ID(), err)
		}
	}

	deps.MetricInc(deps.Metrics.RegistrationStarted)
	deps.EmitAudit(ctx, deps.Events.RegistrationStarted, true, u, nil, func() map[string]string {
		return map[string]string{"active": boolString(res.Active), "restarted": boolString(!isNew)}
	})
	return nil
}

type signatureResponse struct {
	ClientSecretShare string `json:"clientSecretShare"`
	Params            string `json:"params"`
}

type clientSecretResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// RunConfirmRegistration fetches both client-secret shares for u. The
// returned session owns them until FinishRegistration consumes it.
func RunConfirmRegistration(ctx context.Context, u *identity.User, pushToken string, deps Deps) (*RegistrationSession, error) {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("regOTT", u.RegOTT())
	if pushToken != "" {
		q.Set("pmiToken", pushToken)
	}
	sigURL := strings.TrimRight(deps.Settings.SignatureURL, "/") + "/" + u.MPinIDHex() + "?" + q.Encode()

	var sig signatureResponse
	if _, err := deps.Client.Call(ctx, status.StepClientSecret1, http.MethodGet, sigURL, nil, &sig); err != nil {
		deps.EmitAudit(ctx, deps.Events.RegistrationConfirmed, false, u, err, nil)
		return nil, err
	}
	share1, err := secret.FromHex(sig.ClientSecretShare)
	if err != nil || share1.Empty() {
		return nil, status.New(status.ResponseParseError, "invalid clientSecretShare")
	}

	var cs2 clientSecretResponse
	if _, err := deps.Client.Call(ctx, status.StepClientSecret2, http.MethodGet, authorityURL(deps.Settings.CertivoxURL, "clientSecret", sig.Params), nil, &cs2); err != nil {
		share1.Wipe()
		deps.EmitAudit(ctx, deps.Events.RegistrationConfirmed, false, u, err, nil)
		return nil, err
	}
	share2, err := secret.FromHex(cs2.ClientSecret)
	if err != nil || share2.Empty() {
		share1.Wipe()
		return nil, status.New(status.ResponseParseError, "invalid clientSecret")
	}

	sess := &RegistrationSession{flowContext{
		id:        deps.NewID(),
		userKey:   u.Key(),
		mpinIDHex: u.MPinIDHex(),
		shares:    secret.List{share1, share2},
	}}
	deps.MetricInc(deps.Metrics.RegistrationConfirmed)
	deps.EmitAudit(ctx, deps.Events.RegistrationConfirmed, true, u, nil, nil)
	return sess, nil
}

// RunFinishRegistration combines the session's shares with pin into the
// long-term secret and completes registration. sess is wiped on return.
func RunFinishRegistration(ctx context.Context, u *identity.User, sess *RegistrationSession, pin *secret.Bytes, deps Deps) error {
	defer sess.Wipe()
	deps.defaults()
	if err := deps.readyCrypto(); err != nil {
		return err
	}

	shares, err := sess.take(u)
	if err != nil {
		return err
	}
	defer shares.Wipe()
	if !shares.Complete(2) {
		return status.Newf(status.FlowError, "Cannot finish user '%s' registration: User identity not verified", u.ID())
	}

	if err := deps.Crypto.OpenSession(); err != nil {
		return status.Newf(status.CryptoError, "open crypto session: %v", err)
	}
	err = deps.Crypto.Register(u, pin.Bytes(), shares.Raw())
	deps.Crypto.CloseSession()
	if err != nil {
		err = cryptoStatus(err)
		deps.EmitAudit(ctx, deps.Events.RegistrationFinished, false, u, err, nil)
		return err
	}

	prev := u.Snapshot()
	u.SetRegistered()
	if err := persistOrRevert(ctx, u, prev, deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.RegistrationFinished, false, u, err, nil)
		return err
	}

	deps.MetricInc(deps.Metrics.RegistrationFinished)
	deps.EmitAudit(ctx, deps.Events.RegistrationFinished, true, u, nil, nil)
	return nil
}

// authorityURL appends a path and raw query to the D-TA base URL.
func authorityURL(base, path, rawQuery string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + path + "?" + rawQuery
}

// cryptoStatus keeps statuses raised by the crypto engine and classifies
// anything else as a crypto failure.
func cryptoStatus(err error) error {
	var s *status.Status
	if errors.As(err, &s) && s != nil {
		return s
	}
	return status.Newf(status.CryptoError, "%v", err)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
