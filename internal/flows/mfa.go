package flows

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/goMPin/status"
)

// ServiceDetails describes a backend as advertised at <url>/service.
type ServiceDetails struct {
	Name       string `json:"name"`
	BackendURL string `json:"url"`
	RPSPrefix  string `json:"rps_prefix"`
	LogoURL    string `json:"logo_url"`
}

type serviceResponse struct {
	ServiceDetails
	Type string `json:"type"`
}

// RunServiceDetails fetches the service descriptor. Only online services
// are supported.
func RunServiceDetails(ctx context.Context, serviceURL string, deps Deps) (ServiceDetails, error) {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return ServiceDetails{}, err
	}
	var res serviceResponse
	if _, err := deps.Client.Call(ctx, status.StepServiceDetails, http.MethodGet, strings.TrimRight(serviceURL, "/")+"/service", nil, &res); err != nil {
		return ServiceDetails{}, err
	}
	if res.Type != "online" {
		return ServiceDetails{}, status.Newf(status.ResponseParseError, "unsupported service type %q", res.Type)
	}
	return res.ServiceDetails, nil
}

// SessionDetails describes the web session an access code belongs to.
type SessionDetails struct {
	PrerollID       string `json:"prerollId"`
	AppName         string `json:"appName"`
	AppIconURL      string `json:"appLogoURL"`
	CustomerID      string `json:"customerId"`
	CustomerName    string `json:"customerName"`
	CustomerIconURL string `json:"customerLogoURL"`
}

// RunSessionDetails asks the code status endpoint about accessCode.
func RunSessionDetails(ctx context.Context, accessCode string, deps Deps) (SessionDetails, error) {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return SessionDetails{}, err
	}
	if deps.Settings.CodeStatusURL == "" {
		return SessionDetails{}, status.New(status.FlowError, "backend does not support session details")
	}
	var res SessionDetails
	if _, err := deps.Client.Call(ctx, status.StepSessionDetails, http.MethodPost, deps.Settings.CodeStatusURL, codeStatusBody{Status: "wid", WID: accessCode}, &res); err != nil {
		return SessionDetails{}, err
	}
	return res, nil
}

// RunAbortSession tells the backend the access-code session is abandoned.
func RunAbortSession(ctx context.Context, accessCode string, deps Deps) error {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return err
	}
	if deps.Settings.CodeStatusURL == "" {
		return status.New(status.FlowError, "backend does not support session abort")
	}
	_, err := deps.Client.Call(ctx, status.StepAbortSession, http.MethodPost, deps.Settings.CodeStatusURL, codeStatusBody{Status: "abort", WID: accessCode}, nil)
	return err
}

type accessCodeResponse struct {
	QRURL string `json:"qrURL"`
}

// RunGetAccessCode obtains a fresh access code from authzURL. The code is
// the fragment after the last '#' of the returned QR URL.
func RunGetAccessCode(ctx context.Context, authzURL string, deps Deps) (string, error) {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return "", err
	}
	var res accessCodeResponse
	if _, err := deps.Client.Call(ctx, status.StepGetAccessCode, http.MethodPost, authzURL, struct{}{}, &res); err != nil {
		return "", err
	}
	i := strings.LastIndex(res.QRURL, "#")
	if i < 0 || i == len(res.QRURL)-1 {
		return "", status.New(status.ResponseParseError, "qrURL carries no access code")
	}
	return res.QRURL[i+1:], nil
}

// LogoutData is the capability a relying party advertises for ending a
// session it created.
type LogoutData struct {
	URL  string
	Data string
}

// RunLogout replays the logout payload to the backend.
func RunLogout(ctx context.Context, backend string, data LogoutData, deps Deps) error {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return err
	}
	var body any = data.Data
	if json.Valid([]byte(data.Data)) {
		body = json.RawMessage(data.Data)
	}
	target := data.URL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimRight(backend, "/") + "/" + strings.TrimLeft(target, "/")
	}
	if _, err := deps.Client.Call(ctx, status.StepLogout, http.MethodPost, target, body, nil); err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.Logout)
	return nil
}
