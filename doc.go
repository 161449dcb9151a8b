// Package goMPin is a client SDK for M-Pin two-factor, zero-knowledge
// authentication. It drives the registration and authentication protocols
// against an M-Pin backend, keeps the set of enrolled identities and their
// lifecycle state, and persists that set through a caller-supplied
// [Storage].
//
// An [Engine] is built once with [New] and [Builder.Build] and is safe for
// concurrent use. Flows are split into a start call that returns a
// short-lived session ([RegistrationSession], [AuthenticationSession]) and a
// finish call that consumes it:
//
//	u := engine.MakeNewUser("alice@example.com", "phone")
//	err := engine.StartRegistration(ctx, u, goMPin.RegistrationRequest{})
//	sess, err := engine.ConfirmRegistration(ctx, u, "")
//	err = engine.FinishRegistration(ctx, u, sess, secret.FromString(pin))
//
// Sessions hold secret shares and time permits; they are wiped by the
// finish call on every path, or by Wipe when a flow is abandoned. A session
// must not be shared between goroutines.
//
// # Architecture boundaries
//
// goMPin is the public surface. Protocol steps live in internal/flows, the
// wire client and trust guard in internal/transport, and the persisted form
// of the identity set in internal/persist. Pairing-based cryptography is out
// of scope and is supplied by the caller as a [Crypto] implementation.
//
// Every failure is an error wrapping a *[status.Status]; use errors.Is with
// the Err* sentinels or [status.CodeOf] to branch on the outcome.
package goMPin
