package goMPin

import (
	"context"
	"sort"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/internal/settings"
	"github.com/MrEthical07/goMPin/status"
)

func newUser(id, deviceName string) *User {
	return identity.New(id, deviceName)
}

// ListUsers returns the users tracked for the active backend, ordered by
// id.
func (e *Engine) ListUsers() []*User {
	return e.ListUsersForBackend(e.BackendKey())
}

// ListUsersForBackend returns the users tracked for backend, which may be
// given with or without scheme.
func (e *Engine) ListUsersForBackend(backend string) []*User {
	key := settings.BackendKey(backend)
	if key == "" {
		return nil
	}
	e.mu.RLock()
	out := make([]*User, 0, len(e.users))
	for _, u := range e.users {
		if u.Backend() == key {
			out = append(out, u)
		}
	}
	e.mu.RUnlock()
	return sortUsers(out)
}

// ListAllUsers returns every tracked user.
func (e *Engine) ListAllUsers() []*User {
	e.mu.RLock()
	out := make([]*User, 0, len(e.users))
	for _, u := range e.users {
		out = append(out, u)
	}
	e.mu.RUnlock()
	return sortUsers(out)
}

// ListBackends returns the distinct backends of tracked users.
func (e *Engine) ListBackends() []string {
	e.mu.RLock()
	seen := make(map[string]struct{}, len(e.users))
	for _, u := range e.users {
		seen[u.Backend()] = struct{}{}
	}
	e.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// LookupUser finds a tracked user by id on the active backend.
func (e *Engine) LookupUser(id string) (*User, bool) {
	return e.lookup(identity.Key(id, e.BackendKey()))
}

// DeleteUser forgets u: its long-term secret is erased, it becomes Invalid
// and the store is rewritten. Its pending registration token is erased once
// that write succeeds. Erasure failures are logged; the user is removed
// regardless.
func (e *Engine) DeleteUser(ctx context.Context, u *User) error {
	if err := e.usable(); err != nil {
		return err
	}
	if u == nil {
		return errUserNil
	}

	key := u.Key()
	e.mu.Lock()
	if e.users[key] != u {
		e.mu.Unlock()
		return status.Newf(status.FlowError, "User '%s' is not tracked by this engine", u.ID())
	}
	delete(e.users, key)
	delete(e.logoutData, key)
	e.mu.Unlock()

	mpinIDHex := u.MPinIDHex()
	if mpinIDHex != "" {
		if err := e.crypto.DeleteToken(mpinIDHex); err != nil {
			logf("delete token of user %s failed: %v", u.ID(), err)
		}
	}
	u.Invalidate()

	err := e.persistUsers(ctx)
	// The token outlives any blob that still lists the user.
	if err == nil && mpinIDHex != "" {
		if derr := e.crypto.DeleteRegOTT(mpinIDHex); derr != nil {
			logf("delete registration token of user %s failed: %v", u.ID(), derr)
		}
	}
	e.metricInc(MetricUserDeleted)
	e.emitAudit(ctx, auditEventUserDeleted, err == nil, u, err, func() map[string]string {
		return map[string]string{"mpin_id": mpinIDHex}
	})
	return err
}
