// Package status defines the closed outcome taxonomy returned by every
// goMPin operation and the translation of transport outcomes into it.
package status

import (
	"errors"
	"fmt"
)

// Code is the kind of an outcome. The set is closed.
type Code int

const (
	OK Code = iota
	PinInputCanceled
	CryptoError
	StorageError
	NetworkError
	ResponseParseError
	FlowError
	IdentityNotAuthorized
	IdentityNotVerified
	RequestExpired
	Revoked
	IncorrectPIN
	IncorrectAccessNumber
	HTTPServerError
	HTTPRequestError
	BadUserAgent
	ClientSecretExpired
	BadClientVersion
	UntrustedDomainError
	RegistrationExpired
	codeCount
)

var codeNames = [codeCount]string{
	OK:                    "OK",
	PinInputCanceled:      "PIN_INPUT_CANCELED",
	CryptoError:           "CRYPTO_ERROR",
	StorageError:          "STORAGE_ERROR",
	NetworkError:          "NETWORK_ERROR",
	ResponseParseError:    "RESPONSE_PARSE_ERROR",
	FlowError:             "FLOW_ERROR",
	IdentityNotAuthorized: "IDENTITY_NOT_AUTHORIZED",
	IdentityNotVerified:   "IDENTITY_NOT_VERIFIED",
	RequestExpired:        "REQUEST_EXPIRED",
	Revoked:               "REVOKED",
	IncorrectPIN:          "INCORRECT_PIN",
	IncorrectAccessNumber: "INCORRECT_ACCESS_NUMBER",
	HTTPServerError:       "HTTP_SERVER_ERROR",
	HTTPRequestError:      "HTTP_REQUEST_ERROR",
	BadUserAgent:          "BAD_USER_AGENT",
	ClientSecretExpired:   "CLIENT_SECRET_EXPIRED",
	BadClientVersion:      "BAD_CLIENT_VERSION",
	UntrustedDomainError:  "UNTRUSTED_DOMAIN_ERROR",
	RegistrationExpired:   "REGISTRATION_EXPIRED",
}

// String returns the wire-stable upper-case name of the code.
func (c Code) String() string {
	if c < 0 || c >= codeCount {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// Local reports whether the code describes a client-side failure, one where
// either no round trip happened or the counterparty did not reject anything.
func (c Code) Local() bool {
	switch c {
	case PinInputCanceled, CryptoError, StorageError, NetworkError,
		ResponseParseError, FlowError, UntrustedDomainError:
		return true
	}
	return false
}

// Remote reports whether the counterparty explicitly rejected the request.
func (c Code) Remote() bool {
	return c != OK && c < codeCount && !c.Local()
}

// Status is a non-OK outcome. Two statuses are equal under errors.Is when
// their codes match; the message is diagnostic only.
type Status struct {
	Code    Code
	Message string
}

// New returns a Status with the given code and message.
func New(code Code, message string) *Status {
	return &Status{Code: code, Message: message}
}

// Newf formats the message like fmt.Sprintf.
func Newf(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (s *Status) Error() string {
	if s == nil {
		return OK.String()
	}
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Message
}

// Is matches any *Status carrying the same code.
func (s *Status) Is(target error) bool {
	var t *Status
	if !errors.As(target, &t) || s == nil || t == nil {
		return false
	}
	return s.Code == t.Code
}

// Sentinels for use with errors.Is.
var (
	ErrPinInputCanceled      = &Status{Code: PinInputCanceled}
	ErrCrypto                = &Status{Code: CryptoError}
	ErrStorage               = &Status{Code: StorageError}
	ErrNetwork               = &Status{Code: NetworkError}
	ErrResponseParse         = &Status{Code: ResponseParseError}
	ErrFlow                  = &Status{Code: FlowError}
	ErrIdentityNotAuthorized = &Status{Code: IdentityNotAuthorized}
	ErrIdentityNotVerified   = &Status{Code: IdentityNotVerified}
	ErrRequestExpired        = &Status{Code: RequestExpired}
	ErrRevoked               = &Status{Code: Revoked}
	ErrIncorrectPIN          = &Status{Code: IncorrectPIN}
	ErrIncorrectAccessNumber = &Status{Code: IncorrectAccessNumber}
	ErrHTTPServer            = &Status{Code: HTTPServerError}
	ErrHTTPRequest           = &Status{Code: HTTPRequestError}
	ErrBadUserAgent          = &Status{Code: BadUserAgent}
	ErrClientSecretExpired   = &Status{Code: ClientSecretExpired}
	ErrBadClientVersion      = &Status{Code: BadClientVersion}
	ErrUntrustedDomain       = &Status{Code: UntrustedDomainError}
	ErrRegistrationExpired   = &Status{Code: RegistrationExpired}
)

// CodeOf extracts the code from err. A nil error is OK and any error that
// does not wrap a *Status is reported as FlowError.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var s *Status
	if errors.As(err, &s) && s != nil {
		return s.Code
	}
	return FlowError
}

// MessageOf returns the detail message carried by err, if any.
func MessageOf(err error) string {
	var s *Status
	if errors.As(err, &s) && s != nil {
		return s.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
