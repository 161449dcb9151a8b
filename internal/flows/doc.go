// Package flows contains the protocol orchestrators behind every Engine
// operation: registration, time-permit acquisition, the two-pass
// authentication exchange and the session helpers around it.
//
// Each flow function (RunStartRegistration, RunFinishAuthentication, etc.)
// accepts a typed Deps value and the identity it operates on. Precondition
// checks against the tracked identity set stay with the Engine; flows assume
// the identity is in the state the operation requires.
//
// # Flow contexts
//
// Secret shares obtained between a Start/Confirm call and the matching Finish
// call travel in a RegistrationSession or AuthenticationSession, never on the
// identity. Finish consumes the session and wipes it on every exit path.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goMPin (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through Deps.
package flows
