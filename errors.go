package goMPin

import (
	"errors"

	"github.com/MrEthical07/goMPin/status"
)

// Outcome sentinels. Any error returned by the Engine matches exactly one
// of these with errors.Is.
var (
	ErrPinInputCanceled      = status.ErrPinInputCanceled
	ErrCrypto                = status.ErrCrypto
	ErrStorage               = status.ErrStorage
	ErrNetwork               = status.ErrNetwork
	ErrResponseParse         = status.ErrResponseParse
	ErrFlow                  = status.ErrFlow
	ErrIdentityNotAuthorized = status.ErrIdentityNotAuthorized
	ErrIdentityNotVerified   = status.ErrIdentityNotVerified
	ErrRequestExpired        = status.ErrRequestExpired
	ErrRevoked               = status.ErrRevoked
	ErrIncorrectPIN          = status.ErrIncorrectPIN
	ErrIncorrectAccessNumber = status.ErrIncorrectAccessNumber
	ErrHTTPServer            = status.ErrHTTPServer
	ErrHTTPRequest           = status.ErrHTTPRequest
	ErrBadUserAgent          = status.ErrBadUserAgent
	ErrClientSecretExpired   = status.ErrClientSecretExpired
	ErrBadClientVersion      = status.ErrBadClientVersion
	ErrUntrustedDomain       = status.ErrUntrustedDomain
	ErrRegistrationExpired   = status.ErrRegistrationExpired
)

// Builder errors.
var (
	ErrBuilderUsed    = errors.New("builder already used")
	ErrCryptoRequired = errors.New("crypto engine required")
	ErrInvalidConfig  = errors.New("invalid config")
)

var (
	errBackendNotSet   = status.New(status.FlowError, "Backend not set")
	errUserNil         = status.New(status.FlowError, "User is nil")
	errAccessCodeEmpty = status.New(status.FlowError, "Session was started without an access code")
	errNoVerifier      = status.New(status.FlowError, "No session token verifier configured")
)

var (
	errEngineNil    = status.New(status.FlowError, "Engine is nil")
	errEngineClosed = status.New(status.FlowError, "Engine is closed")
)

var errPinCanceled = status.New(status.PinInputCanceled, "PIN input canceled")
