package persist

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/status"
)

type memTokens struct {
	m       map[string]string
	saveErr error
}

func newMemTokens() *memTokens {
	return &memTokens{m: map[string]string{}}
}

func (t *memTokens) SaveRegOTT(id, ott string) error {
	if t.saveErr != nil {
		return t.saveErr
	}
	t.m[id] = ott
	return nil
}

func (t *memTokens) LoadRegOTT(id string) (string, error) {
	return t.m[id], nil
}

func (t *memTokens) DeleteRegOTT(id string) error {
	delete(t.m, id)
	return nil
}

func registeredUser(t *testing.T, id, mpinIDHex string) *identity.User {
	t.Helper()
	u := identity.New(id, "device-"+id)
	u.SetBackend("api.example.com")
	if err := u.SetStartedRegistration(mpinIDHex, "ott-"+id, "cust", "app"); err != nil {
		t.Fatalf("SetStartedRegistration: %v", err)
	}
	u.SetRegistered()
	return u
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tokens := newMemTokens()

	reg := registeredUser(t, "alice", "a1")
	reg.CacheTimePermit([]byte{1, 2, 3}, 17500)

	pending := identity.New("bob", "")
	pending.SetBackend("other.example.com")
	if err := pending.SetStartedRegistration("b2", "ott-bob", "", ""); err != nil {
		t.Fatalf("SetStartedRegistration: %v", err)
	}

	blocked := registeredUser(t, "carol", "c3")
	blocked.Block()

	tokens.m["a1"] = "ott-alice"
	all := []*identity.User{reg, pending, blocked, identity.New("skip", "")}
	data, err := Encode(all)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(data, "ott-bob") {
		t.Fatalf("registration token leaked into non-secure blob: %s", data)
	}
	if len(tokens.m) != 1 {
		t.Fatalf("Encode touched the token store: %v", tokens.m)
	}
	if err := StageTokens(all, tokens); err != nil {
		t.Fatalf("StageTokens: %v", err)
	}
	if _, ok := tokens.m["a1"]; !ok {
		t.Fatalf("staging purged a settled token before the write")
	}
	if err := PurgeTokens(all, tokens); err != nil {
		t.Fatalf("PurgeTokens: %v", err)
	}
	if tokens.m["b2"] != "ott-bob" {
		t.Fatalf("pending token not saved to secure store: %v", tokens.m)
	}
	if _, ok := tokens.m["a1"]; ok {
		t.Fatalf("registered user's token not purged")
	}

	users, err := Decode(data, tokens)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}

	byID := map[string]*identity.User{}
	for _, u := range users {
		byID[u.ID()] = u
	}
	for _, want := range []*identity.User{reg, pending, blocked} {
		got := byID[want.ID()]
		if got == nil {
			t.Fatalf("user %s missing after reload", want.ID())
		}
		if got.Snapshot() != want.Snapshot() {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got.Snapshot(), want.Snapshot())
		}
	}
}

func TestDecodeWireShape(t *testing.T) {
	data := `{"0a0b":{"id":"dan","backend":"api.example.com","state":"REGISTERED","timePermitCache":{"date":100,"timePermit":"ff"}}}`
	users, err := Decode(data, newMemTokens())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(users) != 1 || users[0].MPinIDHex() != "0a0b" || users[0].State() != identity.Registered {
		t.Fatalf("unexpected users %+v", users[0].Snapshot())
	}
	if hex, date := users[0].TimePermit(); hex != "ff" || date != 100 {
		t.Fatalf("unexpected time permit %q %d", hex, date)
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	good := `"a1":{"id":"ok","backend":"b","state":"REGISTERED"}`

	tests := []struct {
		name   string
		data   string
		tokens map[string]string
	}{
		{"registered with token", `{` + good + `,"b2":{"id":"bad","backend":"b","state":"REGISTERED"}}`, map[string]string{"b2": "ott"}},
		{"started without token", `{` + good + `,"b2":{"id":"bad","backend":"b","state":"STARTED_REGISTRATION"}}`, nil},
		{"unknown state", `{` + good + `,"b2":{"id":"bad","backend":"b","state":"WHATEVER"}}`, nil},
		{"invalid state", `{` + good + `,"b2":{"id":"bad","backend":"b","state":"INVALID"}}`, nil},
		{"bad hex key", `{` + good + `,"zz":{"id":"bad","backend":"b","state":"REGISTERED"}}`, nil},
		{"bad permit hex", `{"a1":{"id":"x","backend":"b","state":"REGISTERED","timePermitCache":{"date":1,"timePermit":"q"}}}`, nil},
		{"not json", `{`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := newMemTokens()
			for k, v := range tt.tokens {
				tokens.m[k] = v
			}
			users, err := Decode(tt.data, tokens)
			if !errors.Is(err, status.ErrStorage) {
				t.Fatalf("expected storage error, got %v", err)
			}
			if len(users) != 0 {
				t.Fatalf("partial load returned %d users", len(users))
			}
		})
	}
}

func TestStageTokensPropagatesFailure(t *testing.T) {
	tokens := newMemTokens()
	tokens.saveErr = errors.New("keystore locked")

	u := identity.New("eve", "")
	if err := u.SetStartedRegistration("e5", "ott", "", ""); err != nil {
		t.Fatalf("SetStartedRegistration: %v", err)
	}
	if err := StageTokens([]*identity.User{u}, tokens); status.CodeOf(err) != status.StorageError {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	users, err := Decode("", nil)
	if err != nil || len(users) != 0 {
		t.Fatalf("unexpected %v %v", users, err)
	}
}

func TestInspect(t *testing.T) {
	data, err := Encode([]*identity.User{registeredUser(t, "zed", "01"), registeredUser(t, "amy", "02")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	snaps, err := Inspect(data)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != "amy" || snaps[1].ID != "zed" {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatalf("blob is not a JSON object keyed by mpin id: %v", err)
	}
	if raw["01"]["state"] != "REGISTERED" {
		t.Fatalf("unexpected record %v", raw["01"])
	}
}
