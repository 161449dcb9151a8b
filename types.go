package goMPin

import (
	"github.com/MrEthical07/goMPin/authresult"
	"github.com/MrEthical07/goMPin/identity"
	internalaudit "github.com/MrEthical07/goMPin/internal/audit"
	"github.com/MrEthical07/goMPin/internal/flows"
	"github.com/MrEthical07/goMPin/status"
	"github.com/MrEthical07/goMPin/storage"
)

// User is one enrolled identity at one backend.
type User = identity.User

// State is a User's lifecycle state.
type State = identity.State

const (
	StateInvalid             = identity.Invalid
	StateStartedRegistration = identity.StartedRegistration
	StateActivated           = identity.Activated
	StateRegistered          = identity.Registered
	StateBlocked             = identity.Blocked
)

// Status is the error type every Engine failure wraps.
type Status = status.Status

// StatusCode is the closed set of outcomes.
type StatusCode = status.Code

// RegistrationRequest carries the optional registration metadata.
type RegistrationRequest = flows.RegistrationRequest

// RegistrationSession holds the client-secret shares between
// ConfirmRegistration and FinishRegistration.
type RegistrationSession = flows.RegistrationSession

// AuthenticationSession holds time-permit shares and the access code
// between StartAuthentication and a FinishAuthentication variant.
type AuthenticationSession = flows.AuthenticationSession

// ServiceDetails describes a backend.
type ServiceDetails = flows.ServiceDetails

// SessionDetails describes the web session behind an access code.
type SessionDetails = flows.SessionDetails

// OTP is a one-time passcode issued on authentication.
type OTP = authresult.OTP

// SessionClaims are the verified claims of a relying-party session token.
type SessionClaims = authresult.SessionClaims

// Storage persists the identity set as one text document.
type Storage = storage.Storage

// AuditEvent is a single audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// Crypto is the pairing-based crypto engine. It keeps long-term secrets and
// pending registration tokens in its own secure storage. All methods that
// take a PIN are bracketed by OpenSession and CloseSession.
type Crypto interface {
	OpenSession() error
	CloseSession()
	Register(u *User, pin []byte, clientSecretShares [][]byte) error
	AuthenticatePass1(u *User, pin []byte, date int, timePermitShares [][]byte) (commitmentU, commitmentUT []byte, err error)
	AuthenticatePass2(u *User, challenge []byte) (proofV []byte, err error)
	DeleteToken(mpinIDHex string) error

	SaveRegOTT(mpinIDHex, regOTT string) error
	LoadRegOTT(mpinIDHex string) (string, error)
	DeleteRegOTT(mpinIDHex string) error
}
