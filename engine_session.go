package goMPin

import (
	"context"

	"github.com/MrEthical07/goMPin/internal/flows"
)

// GetServiceDetails reads the descriptor a backend publishes at
// <serviceURL>/service. It does not need an active backend.
func (e *Engine) GetServiceDetails(ctx context.Context, serviceURL string) (ServiceDetails, error) {
	if err := e.usable(); err != nil {
		return ServiceDetails{}, err
	}
	sd, err := flows.RunServiceDetails(ctx, serviceURL, e.baseDeps())
	return sd, e.observe(ctx, err)
}

// GetSessionDetails describes the web session behind accessCode.
func (e *Engine) GetSessionDetails(ctx context.Context, accessCode string) (SessionDetails, error) {
	deps, _, err := e.deps()
	if err != nil {
		return SessionDetails{}, err
	}
	sd, err := flows.RunSessionDetails(ctx, accessCode, deps)
	return sd, e.observe(ctx, err)
}

// AbortSession tells the backend the user declined the web session.
func (e *Engine) AbortSession(ctx context.Context, accessCode string) error {
	deps, _, err := e.deps()
	if err != nil {
		return err
	}
	return e.observe(ctx, flows.RunAbortSession(ctx, accessCode, deps))
}

// GetAccessCode requests a new access code from an authorization endpoint.
func (e *Engine) GetAccessCode(ctx context.Context, authzURL string) (string, error) {
	if err := e.usable(); err != nil {
		return "", err
	}
	code, err := flows.RunGetAccessCode(ctx, authzURL, e.baseDeps())
	return code, e.observe(ctx, err)
}
