// Package identity models one enrolled end-user identity at one backend
// and its registration lifecycle.
//
// Transition methods are driven by the goMPin engine. Applications treat a
// *User as a read-only handle; the accessors are safe for concurrent use.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrInvariant reports a registration-token presence violation.
var ErrInvariant = errors.New("identity invariant violated")

// User is one identity. Create it with New.
type User struct {
	mu sync.RWMutex

	id         string
	deviceName string
	backend    string
	customerID string
	appID      string
	state      State
	mpinID     []byte
	mpinIDHex  string
	regOTT     string
	timePermit TimePermitCache
}

// New returns an Invalid user not yet bound to a backend.
func New(id, deviceName string) *User {
	return &User{id: id, deviceName: deviceName}
}

// Key joins an identifier and a backend key into the uniqueness key.
func Key(id, backend string) string {
	return id + "@" + backend
}

func (u *User) ID() string {
	return u.id
}

func (u *User) DeviceName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.deviceName
}

func (u *User) Backend() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.backend
}

func (u *User) CustomerID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.customerID
}

func (u *User) AppID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.appID
}

func (u *User) State() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// MPinID returns a copy of the raw identity handle.
func (u *User) MPinID() []byte {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]byte, len(u.mpinID))
	copy(out, u.mpinID)
	return out
}

func (u *User) MPinIDHex() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mpinIDHex
}

func (u *User) RegOTT() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.regOTT
}

// Key returns the (id, backend) uniqueness key.
func (u *User) Key() string {
	return Key(u.id, u.Backend())
}

// TimePermit returns a copy of the cached permit and its date.
func (u *User) TimePermit() (permitHex string, date int) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.timePermit.Hex(), u.timePermit.Date()
}

// CachedTimePermit returns an owned copy of the cached permit when it was
// issued for date.
func (u *User) CachedTimePermit(date int) (TimePermitCache, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if !u.timePermit.ValidFor(date) {
		return TimePermitCache{}, false
	}
	return TimePermitCache{permit: u.timePermit.Permit(), date: date}, true
}

// SetBackend binds an Invalid user to a backend key.
func (u *User) SetBackend(backend string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.backend = backend
}

// Changed reports whether a registration response differs from what the
// user already holds.
func (u *User) Changed(mpinIDHex, regOTT string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.mpinIDHex != mpinIDHex || u.regOTT != regOTT
}

// SetStartedRegistration records a registration response.
func (u *User) SetStartedRegistration(mpinIDHex, regOTT, customerID, appID string) error {
	raw, err := hex.DecodeString(mpinIDHex)
	if err != nil {
		return fmt.Errorf("decode mpin id: %w", err)
	}
	if regOTT == "" {
		return fmt.Errorf("%w: started registration without registration token", ErrInvariant)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = StartedRegistration
	u.mpinID = raw
	u.mpinIDHex = mpinIDHex
	u.regOTT = regOTT
	if customerID != "" {
		u.customerID = customerID
	}
	if appID != "" {
		u.appID = appID
	}
	return nil
}

// SetActivated marks a started registration as activated by the backend.
func (u *User) SetActivated() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = Activated
}

// SetRegistered completes registration and drops the registration token.
func (u *User) SetRegistered() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = Registered
	u.regOTT = ""
}

// Block moves the user to the terminal Blocked state.
func (u *User) Block() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = Blocked
	u.regOTT = ""
	u.timePermit.Invalidate()
}

// Invalidate returns the user to Invalid and clears all identity material.
func (u *User) Invalidate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = Invalid
	for i := range u.mpinID {
		u.mpinID[i] = 0
	}
	u.mpinID = nil
	u.mpinIDHex = ""
	u.regOTT = ""
	u.timePermit.Invalidate()
}

// CacheTimePermit replaces the cached permit.
func (u *User) CacheTimePermit(permit []byte, date int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timePermit.Invalidate()
	u.timePermit = NewTimePermitCache(permit, date)
}

// CheckInvariant verifies registration-token presence against the state.
func (u *User) CheckInvariant() error {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return checkRegOTT(u.id, u.state, u.regOTT)
}

func checkRegOTT(id string, state State, regOTT string) error {
	required, constrained := state.RequiresRegOTT()
	if !constrained {
		return nil
	}
	if required && regOTT == "" {
		return fmt.Errorf("%w: user '%s' in state %s has no registration token", ErrInvariant, id, state)
	}
	if !required && regOTT != "" {
		return fmt.Errorf("%w: user '%s' in state %s holds a registration token", ErrInvariant, id, state)
	}
	return nil
}

// Snapshot is the serializable view of a user.
type Snapshot struct {
	ID             string
	DeviceName     string
	Backend        string
	CustomerID     string
	AppID          string
	State          State
	MPinIDHex      string
	RegOTT         string
	TimePermitHex  string
	TimePermitDate int
}

// Snapshot captures the persisted fields.
func (u *User) Snapshot() Snapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return Snapshot{
		ID:             u.id,
		DeviceName:     u.deviceName,
		Backend:        u.backend,
		CustomerID:     u.customerID,
		AppID:          u.appID,
		State:          u.state,
		MPinIDHex:      u.mpinIDHex,
		RegOTT:         u.regOTT,
		TimePermitHex:  u.timePermit.Hex(),
		TimePermitDate: u.timePermit.Date(),
	}
}

// Revert puts u back to an earlier snapshot of itself. The id is kept; a
// snapshot of another user is rejected.
func (u *User) Revert(s Snapshot) error {
	if s.ID != u.id {
		return fmt.Errorf("revert user '%s' to snapshot of '%s'", u.id, s.ID)
	}
	raw, err := hex.DecodeString(s.MPinIDHex)
	if err != nil {
		return fmt.Errorf("decode mpin id of user '%s': %w", s.ID, err)
	}
	var permit TimePermitCache
	if s.TimePermitHex != "" {
		tp, err := hex.DecodeString(s.TimePermitHex)
		if err != nil {
			return fmt.Errorf("decode time permit of user '%s': %w", s.ID, err)
		}
		permit = NewTimePermitCache(tp, s.TimePermitDate)
		for i := range tp {
			tp[i] = 0
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.deviceName = s.DeviceName
	u.backend = s.Backend
	u.customerID = s.CustomerID
	u.appID = s.AppID
	u.state = s.State
	if len(raw) == 0 {
		raw = nil
	}
	u.mpinID = raw
	u.mpinIDHex = s.MPinIDHex
	u.regOTT = s.RegOTT
	u.timePermit.Invalidate()
	u.timePermit = permit
	return nil
}

// Restore rebuilds a user from a snapshot and validates it. Blocked users
// are restored as Blocked.
func Restore(s Snapshot) (*User, error) {
	if s.ID == "" {
		return nil, errors.New("user record has no id")
	}
	raw, err := hex.DecodeString(s.MPinIDHex)
	if err != nil {
		return nil, fmt.Errorf("decode mpin id of user '%s': %w", s.ID, err)
	}
	if s.State == Invalid {
		return nil, fmt.Errorf("%w: user '%s' persisted in state %s", ErrInvariant, s.ID, s.State)
	}
	if err := checkRegOTT(s.ID, s.State, s.RegOTT); err != nil {
		return nil, err
	}

	u := &User{
		id:         s.ID,
		deviceName: s.DeviceName,
		backend:    s.Backend,
		customerID: s.CustomerID,
		appID:      s.AppID,
		state:      s.State,
		mpinID:     raw,
		mpinIDHex:  s.MPinIDHex,
		regOTT:     s.RegOTT,
	}
	if s.TimePermitHex != "" {
		tp, err := hex.DecodeString(s.TimePermitHex)
		if err != nil {
			return nil, fmt.Errorf("decode time permit of user '%s': %w", s.ID, err)
		}
		u.timePermit = NewTimePermitCache(tp, s.TimePermitDate)
		for i := range tp {
			tp[i] = 0
		}
	}
	return u, nil
}
