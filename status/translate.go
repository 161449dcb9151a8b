package status

import (
	"net/http"
	"strings"
)

// Step names the protocol request whose HTTP outcome is being translated.
// The same HTTP status means different things at different steps.
type Step int

const (
	StepGeneric Step = iota
	StepServiceDetails
	StepClientSettings
	StepRegister
	StepClientSecret1
	StepClientSecret2
	StepTimePermit1
	StepTimePermit2
	StepPass1
	StepPass2
	StepAuthenticateRPA
	StepSessionDetails
	StepAbortSession
	StepGetAccessCode
	StepLogout
	stepCount
)

var stepNames = [stepCount]string{
	StepGeneric:         "generic",
	StepServiceDetails:  "service_details",
	StepClientSettings:  "client_settings",
	StepRegister:        "register",
	StepClientSecret1:   "client_secret_1",
	StepClientSecret2:   "client_secret_2",
	StepTimePermit1:     "time_permit_1",
	StepTimePermit2:     "time_permit_2",
	StepPass1:           "pass_1",
	StepPass2:           "pass_2",
	StepAuthenticateRPA: "authenticate_rpa",
	StepSessionDetails:  "session_details",
	StepAbortSession:    "abort_session",
	StepGetAccessCode:   "get_access_code",
	StepLogout:          "logout",
}

func (s Step) String() string {
	if s < 0 || s >= stepCount {
		return "unknown"
	}
	return stepNames[s]
}

// Steps returns every defined step in declaration order.
func Steps() []Step {
	out := make([]Step, 0, stepCount)
	for s := Step(0); s < stepCount; s++ {
		out = append(out, s)
	}
	return out
}

// overrides holds the step-specific meaning of HTTP statuses. Anything not
// listed falls back to baseCode.
var overrides = [stepCount]map[int]Code{
	StepServiceDetails: {
		http.StatusPreconditionFailed: BadClientVersion,
	},
	StepRegister: {
		http.StatusForbidden: IdentityNotAuthorized,
		http.StatusGone:      RegistrationExpired,
	},
	StepClientSecret1: {
		http.StatusBadRequest:     IdentityNotVerified,
		http.StatusUnauthorized:   IdentityNotVerified,
		http.StatusRequestTimeout: RequestExpired,
	},
	StepClientSecret2: {
		http.StatusRequestTimeout: RequestExpired,
	},
	StepTimePermit1: {
		http.StatusGone: Revoked,
	},
	StepTimePermit2: {
		http.StatusGone: Revoked,
	},
	StepAuthenticateRPA: {
		http.StatusUnauthorized:       IncorrectPIN,
		http.StatusForbidden:          IdentityNotAuthorized,
		http.StatusRequestTimeout:     RequestExpired,
		http.StatusConflict:           ClientSecretExpired,
		http.StatusGone:               IncorrectPIN,
		http.StatusPreconditionFailed: IncorrectAccessNumber,
	},
}

// Translate maps an HTTP status code received at step to an outcome code.
// Only 200 is success.
func Translate(step Step, httpStatus int) Code {
	if httpStatus == http.StatusOK {
		return OK
	}
	if step >= 0 && step < stepCount {
		if code, ok := overrides[step][httpStatus]; ok {
			return code
		}
	}
	return baseCode(httpStatus)
}

func baseCode(httpStatus int) Code {
	switch {
	case httpStatus >= 500:
		return HTTPServerError
	case httpStatus == http.StatusNotAcceptable:
		return BadUserAgent
	case httpStatus >= 400:
		return HTTPRequestError
	default:
		// 1xx, 3xx and non-200 2xx are not part of the protocol.
		return NetworkError
	}
}

// Blocks reports whether a failure at step with httpStatus instructs the
// client to block the identity and erase its long-term secret.
func Blocks(step Step, httpStatus int) bool {
	return step == StepAuthenticateRPA && httpStatus == http.StatusGone
}

// FromHTTP builds the Status for a failed response. The message is taken from
// the response body when the server supplied one.
func FromHTTP(step Step, httpStatus int, body string) *Status {
	code := Translate(step, httpStatus)
	if code == OK {
		return nil
	}
	msg := strings.TrimSpace(body)
	if Blocks(step, httpStatus) {
		msg = "User blocked"
	}
	if msg == "" {
		msg = http.StatusText(httpStatus)
	}
	return &Status{Code: code, Message: msg}
}
