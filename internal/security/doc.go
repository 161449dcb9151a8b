// Package security derives the engine's security posture from its
// configuration and runtime state.
package security
