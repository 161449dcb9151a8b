// Package persist maps the tracked identity set to and from the text blob
// held by the non-secure storage collaborator. Registration tokens never
// enter that blob; they go through the crypto engine's own secure storage.
package persist

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/status"
)

// TokenStore keeps pending registration tokens keyed by mpin id hex.
type TokenStore interface {
	SaveRegOTT(mpinIDHex, regOTT string) error
	LoadRegOTT(mpinIDHex string) (string, error)
	DeleteRegOTT(mpinIDHex string) error
}

type timePermitRecord struct {
	Date       int    `json:"date"`
	TimePermit string `json:"timePermit"`
}

type userRecord struct {
	ID              string            `json:"id"`
	Backend         string            `json:"backend"`
	CustomerID      string            `json:"customerId,omitempty"`
	AppID           string            `json:"appId,omitempty"`
	DeviceName      string            `json:"deviceName,omitempty"`
	State           string            `json:"state"`
	TimePermitCache *timePermitRecord `json:"timePermitCache,omitempty"`
}

// Encode serializes users keyed by mpin id hex. Invalid users are skipped.
// It does not touch the token store; callers stage pending tokens before
// writing the blob and purge settled ones after the write succeeds.
func Encode(users []*identity.User) (string, error) {
	doc := make(map[string]userRecord, len(users))
	for _, u := range users {
		snap := u.Snapshot()
		if snap.State == identity.Invalid || snap.MPinIDHex == "" {
			continue
		}
		if err := u.CheckInvariant(); err != nil {
			return "", status.Newf(status.StorageError, "refusing to persist: %v", err)
		}

		rec := userRecord{
			ID:         snap.ID,
			Backend:    snap.Backend,
			CustomerID: snap.CustomerID,
			AppID:      snap.AppID,
			DeviceName: snap.DeviceName,
			State:      snap.State.String(),
		}
		if snap.TimePermitHex != "" {
			rec.TimePermitCache = &timePermitRecord{Date: snap.TimePermitDate, TimePermit: snap.TimePermitHex}
		}
		doc[snap.MPinIDHex] = rec
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", status.Newf(status.StorageError, "encode users: %v", err)
	}
	return string(data), nil
}

// StageTokens saves the registration token of every pending user. It runs
// before the blob is written so a stored STARTED_REGISTRATION record always
// has its token.
func StageTokens(users []*identity.User, tokens TokenStore) error {
	if tokens == nil {
		return nil
	}
	for _, u := range users {
		snap := u.Snapshot()
		if snap.MPinIDHex == "" {
			continue
		}
		if required, _ := snap.State.RequiresRegOTT(); !required {
			continue
		}
		if err := tokens.SaveRegOTT(snap.MPinIDHex, snap.RegOTT); err != nil {
			return status.Newf(status.StorageError, "save registration token of user '%s': %v", snap.ID, err)
		}
	}
	return nil
}

// PurgeTokens drops the registration token of every registered or blocked
// user. Call it only once the blob recording those states is written.
func PurgeTokens(users []*identity.User, tokens TokenStore) error {
	if tokens == nil {
		return nil
	}
	for _, u := range users {
		snap := u.Snapshot()
		if snap.State == identity.Invalid || snap.MPinIDHex == "" {
			continue
		}
		if required, _ := snap.State.RequiresRegOTT(); required {
			continue
		}
		if err := tokens.DeleteRegOTT(snap.MPinIDHex); err != nil {
			return status.Newf(status.StorageError, "delete registration token of user '%s': %v", snap.ID, err)
		}
	}
	return nil
}

// Decode rebuilds users from data. Any invalid record aborts the whole load
// with a StorageError and no users. Empty data yields no users.
func Decode(data string, tokens TokenStore) ([]*identity.User, error) {
	if data == "" {
		return nil, nil
	}
	var doc map[string]userRecord
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, status.Newf(status.StorageError, "decode users: %v", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	users := make([]*identity.User, 0, len(doc))
	for _, mpinIDHex := range keys {
		u, err := decodeUser(mpinIDHex, doc[mpinIDHex], tokens)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func decodeUser(mpinIDHex string, rec userRecord, tokens TokenStore) (*identity.User, error) {
	state, err := identity.ParseState(rec.State)
	if err != nil {
		return nil, status.Newf(status.StorageError, "user '%s': %v", rec.ID, err)
	}

	var regOTT string
	if tokens != nil {
		regOTT, err = tokens.LoadRegOTT(mpinIDHex)
		if err != nil {
			return nil, status.Newf(status.StorageError, "load registration token of user '%s': %v", rec.ID, err)
		}
	}

	snap := identity.Snapshot{
		ID:         rec.ID,
		DeviceName: rec.DeviceName,
		Backend:    rec.Backend,
		CustomerID: rec.CustomerID,
		AppID:      rec.AppID,
		State:      state,
		MPinIDHex:  mpinIDHex,
		RegOTT:     regOTT,
	}
	if rec.TimePermitCache != nil {
		snap.TimePermitHex = rec.TimePermitCache.TimePermit
		snap.TimePermitDate = rec.TimePermitCache.Date
	}

	u, err := identity.Restore(snap)
	if err != nil {
		return nil, status.Newf(status.StorageError, "Corrupted data for user '%s': %v", rec.ID, err)
	}
	return u, nil
}

// Inspect parses data into snapshots without consulting the token store or
// validating state. Registration tokens are always empty. It serves
// read-only tooling; Decode is the only loader the engine uses.
func Inspect(data string) ([]identity.Snapshot, error) {
	if data == "" {
		return nil, nil
	}
	var doc map[string]userRecord
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := make([]identity.Snapshot, 0, len(doc))
	for mpinIDHex, rec := range doc {
		state, err := identity.ParseState(rec.State)
		if err != nil {
			return nil, fmt.Errorf("user '%s': %w", rec.ID, err)
		}
		snap := identity.Snapshot{
			ID:         rec.ID,
			DeviceName: rec.DeviceName,
			Backend:    rec.Backend,
			CustomerID: rec.CustomerID,
			AppID:      rec.AppID,
			State:      state,
			MPinIDHex:  mpinIDHex,
		}
		if rec.TimePermitCache != nil {
			snap.TimePermitHex = rec.TimePermitCache.TimePermit
			snap.TimePermitDate = rec.TimePermitCache.Date
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Backend != out[j].Backend {
			return out[i].Backend < out[j].Backend
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
