package goMPin

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrEthical07/goMPin/authresult"
	"github.com/MrEthical07/goMPin/mpintest"
	"github.com/MrEthical07/goMPin/status"
	"github.com/MrEthical07/goMPin/storage"
)

type testEnv struct {
	engine *Engine
	srv    *mpintest.Server
	crypto *mpintest.Crypto
	store  Storage
	events *ChannelSink
}

func newTestEnv(t testing.TB, opts mpintest.Options, configure ...func(*Builder)) *testEnv {
	t.Helper()

	srv := mpintest.NewServer(opts)
	t.Cleanup(srv.Close)

	env := &testEnv{
		srv:    srv,
		crypto: mpintest.NewCrypto(),
		store:  storage.NewMemory(),
		events: NewChannelSink(512),
	}

	cfg := DefaultConfig()
	cfg.Backend = srv.URL
	b := New().
		WithConfig(cfg).
		WithCrypto(env.crypto).
		WithStorage(env.store).
		WithAuditSink(env.events)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) register(t testing.TB, id, pin string) *User {
	t.Helper()
	ctx := context.Background()
	u := env.engine.MakeNewUser(id, "test-device")
	if err := env.engine.StartRegistration(ctx, u, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	sess, err := env.engine.ConfirmRegistration(ctx, u, "")
	if err != nil {
		t.Fatalf("confirm registration: %v", err)
	}
	if err := env.engine.FinishRegistration(ctx, u, sess, []byte(pin)); err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	return u
}

func (env *testEnv) authenticate(t testing.TB, u *User, pin string) ([]byte, error) {
	t.Helper()
	ctx := context.Background()
	sess, err := env.engine.StartAuthentication(ctx, u, "")
	if err != nil {
		return nil, err
	}
	return env.engine.FinishAuthentication(ctx, u, sess, []byte(pin))
}

// drainEvents closes the engine so every audit event is delivered, then
// collects them.
func (env *testEnv) drainEvents() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.events.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func requireCode(t testing.TB, err error, want StatusCode) {
	t.Helper()
	if got := status.CodeOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestEngine_RegisterAndAuthenticate(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	u := env.register(t, "alice@example.com", "1234")

	if u.State() != StateRegistered {
		t.Fatalf("expected Registered, got %s", u.State())
	}
	if u.RegOTT() != "" {
		t.Fatalf("expected registration token to be cleared")
	}

	body, err := env.authenticate(t, u, "1234")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !bytes.Contains(body, []byte("sessionToken")) {
		t.Fatalf("unexpected relying party body %s", body)
	}
	if env.crypto.Opened != env.crypto.Closed {
		t.Fatalf("crypto sessions left open: opened=%d closed=%d", env.crypto.Opened, env.crypto.Closed)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRegistrationFinished] != 1 || snap.Counters[MetricAuthSuccess] != 1 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	if snap.Counters[MetricTimePermitAuthority] != 1 {
		t.Fatalf("expected first permit from the authority, got %v", snap.Counters)
	}

	if _, err := env.authenticate(t, u, "1234"); err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricTimePermitCacheHit] != 1 {
		t.Fatalf("expected second permit from the cache")
	}
}

func TestEngine_PinIsZeroed(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.engine.MakeNewUser("bob@example.com", "")
	if err := env.engine.StartRegistration(ctx, u, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	sess, err := env.engine.ConfirmRegistration(ctx, u, "")
	if err != nil {
		t.Fatalf("confirm registration: %v", err)
	}

	pin := []byte("4321")
	if err := env.engine.FinishRegistration(ctx, u, sess, pin); err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if !bytes.Equal(pin, make([]byte, 4)) {
		t.Fatalf("expected pin to be zeroed, got %q", pin)
	}
	if sess.Complete() {
		t.Fatalf("expected session to be consumed")
	}

	authSess, err := env.engine.StartAuthentication(ctx, u, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	pin = []byte("4321")
	if _, err := env.engine.FinishAuthentication(ctx, u, authSess, pin); err != nil {
		t.Fatalf("finish authentication: %v", err)
	}
	if !bytes.Equal(pin, make([]byte, 4)) {
		t.Fatalf("expected pin to be zeroed after authentication")
	}
}

func TestEngine_EmptyPINIsCanceled(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.engine.MakeNewUser("carol@example.com", "")
	if err := env.engine.StartRegistration(ctx, u, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	sess, err := env.engine.ConfirmRegistration(ctx, u, "")
	if err != nil {
		t.Fatalf("confirm registration: %v", err)
	}

	err = env.engine.FinishRegistration(ctx, u, sess, nil)
	if !errors.Is(err, ErrPinInputCanceled) {
		t.Fatalf("expected PinInputCanceled, got %v", err)
	}
	if u.State() != StateStartedRegistration {
		t.Fatalf("state changed to %s", u.State())
	}

	// The session is spent even though no PIN was supplied.
	err = env.engine.FinishRegistration(ctx, u, sess, []byte("1234"))
	requireCode(t, err, status.FlowError)
}

func TestEngine_StartRegistration_DuplicateID(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	first := env.engine.MakeNewUser("dave@example.com", "")
	if err := env.engine.StartRegistration(ctx, first, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}

	second := env.engine.MakeNewUser("dave@example.com", "")
	err := env.engine.StartRegistration(ctx, second, RegistrationRequest{})
	requireCode(t, err, status.FlowError)
	if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("unexpected message %v", err)
	}

	err = env.engine.StartRegistration(ctx, first, RegistrationRequest{})
	requireCode(t, err, status.FlowError)
}

func TestEngine_OutOfOrderCallsLeaveStateUnchanged(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()

	fresh := env.engine.MakeNewUser("erin@example.com", "")
	err := env.engine.FinishRegistration(ctx, fresh, nil, []byte("1234"))
	requireCode(t, err, status.FlowError)
	if fresh.State() != StateInvalid {
		t.Fatalf("expected Invalid, got %s", fresh.State())
	}
	if _, err := env.engine.ConfirmRegistration(ctx, fresh, ""); status.CodeOf(err) != status.FlowError {
		t.Fatalf("expected FlowError for untracked user, got %v", err)
	}

	if err := env.engine.StartRegistration(ctx, fresh, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	_, err = env.engine.StartAuthentication(ctx, fresh, "")
	requireCode(t, err, status.FlowError)
	if !strings.Contains(err.Error(), "expected REGISTERED") {
		t.Fatalf("expected state diagnostic, got %v", err)
	}
	if fresh.State() != StateStartedRegistration {
		t.Fatalf("state changed to %s", fresh.State())
	}

	registered := env.register(t, "frank@example.com", "1234")
	_, err = env.engine.ConfirmRegistration(ctx, registered, "")
	requireCode(t, err, status.FlowError)
	if !strings.Contains(err.Error(), "expected STARTED_REGISTRATION") {
		t.Fatalf("expected first precondition to be reported, got %v", err)
	}

	err = env.engine.RestartRegistration(ctx, registered, "")
	requireCode(t, err, status.FlowError)

	_, err = env.engine.StartAuthentication(ctx, nil, "")
	requireCode(t, err, status.FlowError)
}

func TestEngine_ActivatedUserConfirms(t *testing.T) {
	opts := mpintest.DefaultOptions()
	opts.AutoActivate = true
	env := newTestEnv(t, opts)
	ctx := context.Background()

	u := env.engine.MakeNewUser("gina@example.com", "")
	if err := env.engine.StartRegistration(ctx, u, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	if u.State() != StateActivated {
		t.Fatalf("expected Activated, got %s", u.State())
	}
	sess, err := env.engine.ConfirmRegistration(ctx, u, "")
	if err != nil {
		t.Fatalf("confirm registration: %v", err)
	}
	if err := env.engine.FinishRegistration(ctx, u, sess, []byte("1111")); err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if u.State() != StateRegistered {
		t.Fatalf("expected Registered, got %s", u.State())
	}
}

func TestEngine_RestartRegistration(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.engine.MakeNewUser("hank@example.com", "")
	if err := env.engine.StartRegistration(ctx, u, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	oldRegOTT := u.RegOTT()

	if err := env.engine.RestartRegistration(ctx, u, "refresh"); err != nil {
		t.Fatalf("restart registration: %v", err)
	}
	if u.RegOTT() == oldRegOTT {
		t.Fatalf("expected a fresh registration token")
	}
	if u.State() != StateStartedRegistration {
		t.Fatalf("expected StartedRegistration, got %s", u.State())
	}
	got, err := env.crypto.LoadRegOTT(u.MPinIDHex())
	if err != nil || got != u.RegOTT() {
		t.Fatalf("expected persisted token %q, got %q (%v)", u.RegOTT(), got, err)
	}
}

func TestEngine_WrongPINBlocksAndErases(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	u := env.register(t, "ivy@example.com", "1234")
	mpinIDHex := u.MPinIDHex()

	for i := 0; i < 2; i++ {
		_, err := env.authenticate(t, u, "9999")
		if !errors.Is(err, ErrIncorrectPIN) {
			t.Fatalf("attempt %d: expected IncorrectPIN, got %v", i+1, err)
		}
	}
	_, err := env.authenticate(t, u, "9999")
	requireCode(t, err, status.IncorrectPIN)
	if u.State() != StateBlocked {
		t.Fatalf("expected Blocked, got %s", u.State())
	}
	if env.crypto.HasToken(mpinIDHex) {
		t.Fatalf("expected secret of blocked user to be erased")
	}
	if env.crypto.Opened != env.crypto.Closed {
		t.Fatalf("crypto sessions left open")
	}

	_, err = env.engine.StartAuthentication(context.Background(), u, "")
	requireCode(t, err, status.FlowError)

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricUserBlocked] != 1 || snap.Counters[MetricAuthFailure] != 3 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	if snap.Counters[MetricHTTPError] < 3 {
		t.Fatalf("expected relying party rejections to be counted, got %d", snap.Counters[MetricHTTPError])
	}

	data, err := env.store.GetData(context.Background())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !strings.Contains(data, `"state":"BLOCKED"`) {
		t.Fatalf("expected blocked state to be persisted: %s", data)
	}

	var blocked bool
	for _, ev := range env.drainEvents() {
		if ev.EventType == auditEventUserBlocked && ev.MPinID == mpinIDHex {
			blocked = true
		}
	}
	if !blocked {
		t.Fatalf("expected a user_blocked audit event")
	}
}

func TestEngine_AccessNumberFlow(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.register(t, "jack@example.com", "1234")

	code := env.srv.NewAccessCode()
	if err := env.engine.CheckAccessNumber(code); err != nil {
		t.Fatalf("check access number: %v", err)
	}
	bad := code[:6] + string('0'+(code[6]-'0'+1)%10)
	if !errors.Is(env.engine.CheckAccessNumber(bad), ErrIncorrectAccessNumber) {
		t.Fatalf("expected IncorrectAccessNumber for %s", bad)
	}

	sess, err := env.engine.StartAuthentication(ctx, u, code)
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	if sess.AccessCode() != code {
		t.Fatalf("expected session to carry access code")
	}
	details, err := env.engine.GetSessionDetails(ctx, code)
	if err != nil {
		t.Fatalf("session details: %v", err)
	}
	if details.PrerollID != u.ID() || details.AppName != "mpintest" {
		t.Fatalf("unexpected session details %+v", details)
	}

	if err := env.engine.FinishAuthenticationAN(ctx, u, sess, []byte("1234")); err != nil {
		t.Fatalf("finish authentication: %v", err)
	}
	if !env.engine.CanLogout(u) {
		t.Fatalf("expected logout data to be recorded")
	}
}

func TestEngine_WrongAccessNumberFailsLate(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.register(t, "kate@example.com", "1234")

	sess, err := env.engine.StartAuthentication(ctx, u, mpintest.WithChecksum("999999"))
	if err != nil {
		t.Fatalf("start should not check the access number: %v", err)
	}
	err = env.engine.FinishAuthenticationAN(ctx, u, sess, []byte("1234"))
	if !errors.Is(err, ErrIncorrectAccessNumber) {
		t.Fatalf("expected IncorrectAccessNumber, got %v", err)
	}
	if u.State() != StateRegistered {
		t.Fatalf("expected Registered, got %s", u.State())
	}
}

func TestEngine_FinishAuthenticationAN_RequiresAccessCode(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.register(t, "liam@example.com", "1234")

	sess, err := env.engine.StartAuthentication(ctx, u, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	pin := []byte("1234")
	err = env.engine.FinishAuthenticationAN(ctx, u, sess, pin)
	requireCode(t, err, status.FlowError)
	if !bytes.Equal(pin, make([]byte, 4)) {
		t.Fatalf("expected pin to be zeroed")
	}
	if env.srv.Hits("/rps/pass1") != 0 {
		t.Fatalf("expected no authentication passes")
	}
}

func TestEngine_OTPAndMFA(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.register(t, "mona@example.com", "1234")

	sess, err := env.engine.StartAuthentication(ctx, u, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	otp, err := env.engine.FinishAuthenticationOTP(ctx, u, sess, []byte("1234"))
	if err != nil {
		t.Fatalf("finish authentication otp: %v", err)
	}
	if len(otp.Code) != 6 || otp.TTLSeconds != 64 || otp.ExpireTime <= otp.NowTime {
		t.Fatalf("unexpected otp %+v", otp)
	}

	sess, err = env.engine.StartAuthentication(ctx, u, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	code, err := env.engine.FinishAuthenticationMFA(ctx, u, sess, []byte("1234"))
	if err != nil {
		t.Fatalf("finish authentication mfa: %v", err)
	}
	if !strings.HasPrefix(code, "authz-") {
		t.Fatalf("unexpected authz code %q", code)
	}
}

func TestEngine_Logout(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	u := env.register(t, "nora@example.com", "1234")

	if env.engine.CanLogout(u) {
		t.Fatalf("no logout before authentication")
	}
	requireCode(t, env.engine.Logout(ctx, u), status.FlowError)

	if _, err := env.authenticate(t, u, "1234"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	env.srv.FailNext("/logout", 503)
	requireCode(t, env.engine.Logout(ctx, u), status.HTTPServerError)
	if !env.engine.CanLogout(u) {
		t.Fatalf("failed logout must keep the payload")
	}

	if err := env.engine.Logout(ctx, u); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if env.engine.CanLogout(u) {
		t.Fatalf("expected logout data to be dropped")
	}
	if n := len(env.srv.Logouts()); n != 1 {
		t.Fatalf("expected one logout at the backend, got %d", n)
	}
	if env.engine.MetricsSnapshot().Counters[MetricLogout] != 1 {
		t.Fatalf("expected logout metric")
	}
}

func TestEngine_DeleteUser(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	registered := env.register(t, "olga@example.com", "1234")
	pending := env.engine.MakeNewUser("paul@example.com", "")
	if err := env.engine.StartRegistration(ctx, pending, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	pendingID := pending.MPinIDHex()
	registeredID := registered.MPinIDHex()

	if err := env.engine.DeleteUser(ctx, pending); err != nil {
		t.Fatalf("delete pending user: %v", err)
	}
	if tok, _ := env.crypto.LoadRegOTT(pendingID); tok != "" {
		t.Fatalf("expected registration token to be erased")
	}
	if pending.State() != StateInvalid {
		t.Fatalf("expected Invalid, got %s", pending.State())
	}

	if err := env.engine.DeleteUser(ctx, registered); err != nil {
		t.Fatalf("delete registered user: %v", err)
	}
	if env.crypto.HasToken(registeredID) {
		t.Fatalf("expected secret to be erased")
	}
	if len(env.engine.ListAllUsers()) != 0 {
		t.Fatalf("expected no tracked users")
	}
	data, _ := env.store.GetData(ctx)
	if data != "{}" {
		t.Fatalf("expected empty store document, got %s", data)
	}

	requireCode(t, env.engine.DeleteUser(ctx, registered), status.FlowError)

	// A deleted id can be registered again.
	env.register(t, "olga@example.com", "5678")
}

func TestEngine_PersistAndReload(t *testing.T) {
	srv := mpintest.NewServer(mpintest.DefaultOptions())
	t.Cleanup(srv.Close)
	ctx := context.Background()

	dir := t.TempDir()
	users := storage.NewFile(filepath.Join(dir, "users.json"))
	secure := storage.NewFile(filepath.Join(dir, "secure.json"))
	crypto, err := mpintest.NewCryptoWithStorage(ctx, secure)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}

	build := func(c Crypto) *Engine {
		cfg := DefaultConfig()
		cfg.Backend = srv.URL
		e, err := New().WithConfig(cfg).WithCrypto(c).WithStorage(users).Build(ctx)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		return e
	}

	first := build(crypto)
	env := &testEnv{engine: first, srv: srv, crypto: crypto}
	registered := env.register(t, "quinn@example.com", "1234")
	if _, err := env.authenticate(t, registered, "1234"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	pending := first.MakeNewUser("rose@example.com", "tablet")
	if err := first.StartRegistration(ctx, pending, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}
	first.Close()

	reopened, err := mpintest.NewCryptoWithStorage(ctx, secure)
	if err != nil {
		t.Fatalf("reopen crypto: %v", err)
	}
	second := build(reopened)
	defer second.Close()

	got := second.ListUsers()
	if len(got) != 2 {
		t.Fatalf("expected 2 users after reload, got %d", len(got))
	}
	r, ok := second.LookupUser("quinn@example.com")
	if !ok || r.State() != StateRegistered {
		t.Fatalf("expected registered user after reload")
	}
	if _, date := r.TimePermit(); date == 0 {
		t.Fatalf("expected time permit cache to survive reload")
	}
	p, ok := second.LookupUser("rose@example.com")
	if !ok {
		t.Fatalf("expected pending user after reload")
	}
	if p.State() != StateStartedRegistration || p.RegOTT() != pending.RegOTT() || p.DeviceName() != "tablet" {
		t.Fatalf("unexpected pending user after reload: %+v", p.Snapshot())
	}

	env2 := &testEnv{engine: second, srv: srv, crypto: reopened}
	if _, err := env2.authenticate(t, r, "1234"); err != nil {
		t.Fatalf("authenticate after reload: %v", err)
	}
	if second.MetricsSnapshot().Counters[MetricTimePermitCacheHit] != 1 {
		t.Fatalf("expected cached permit to be used after reload")
	}
}

func TestEngine_CorruptStoreFailsClosed(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"not json":       "{",
		"unknown state":  `{"aa":{"id":"x@example.com","backend":"b","state":"Bogus"}}`,
		"missing regOTT": `{"aa":{"id":"x@example.com","backend":"b","state":"STARTED_REGISTRATION"}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			st := storage.NewMemory()
			if err := st.SetData(ctx, doc); err != nil {
				t.Fatalf("seed: %v", err)
			}
			_, err := New().WithCrypto(mpintest.NewCrypto()).WithStorage(st).Build(ctx)
			if !errors.Is(err, ErrStorage) {
				t.Fatalf("expected StorageError, got %v", err)
			}
		})
	}
}

func TestEngine_ListingAcrossBackends(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	first := env.register(t, "sam@example.com", "1234")

	other := mpintest.NewServer(mpintest.DefaultOptions())
	t.Cleanup(other.Close)
	if err := env.engine.SetBackend(ctx, other.URL, ""); err != nil {
		t.Fatalf("set backend: %v", err)
	}
	second := env.register(t, "sam@example.com", "1234")

	if got := env.engine.ListUsers(); len(got) != 1 || got[0] != second {
		t.Fatalf("expected only the active backend's user, got %d", len(got))
	}
	if got := env.engine.ListUsersForBackend(env.srv.URL); len(got) != 1 || got[0] != first {
		t.Fatalf("expected first backend's user")
	}
	if got := env.engine.ListAllUsers(); len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	if got := env.engine.ListBackends(); len(got) != 2 {
		t.Fatalf("expected 2 backends, got %v", got)
	}

	_, err := env.engine.StartAuthentication(ctx, first, "")
	requireCode(t, err, status.FlowError)
	if !strings.Contains(err.Error(), "belongs to backend") {
		t.Fatalf("unexpected message %v", err)
	}
}

func TestEngine_SetBackendFailureKeepsPrevious(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()
	before := env.engine.Backend()

	other := mpintest.NewServer(mpintest.DefaultOptions())
	t.Cleanup(other.Close)
	other.FailNext("/rps/clientSettings", 500)
	err := env.engine.SetBackend(ctx, other.URL, "")
	if !errors.Is(err, ErrHTTPServer) {
		t.Fatalf("expected HTTPServerError, got %v", err)
	}
	if env.engine.Backend() != before {
		t.Fatalf("backend changed to %s", env.engine.Backend())
	}

	requireCode(t, env.engine.SetBackend(ctx, "not a url", ""), status.FlowError)
	if err := env.engine.TestBackend(ctx, other.URL, "rps"); err != nil {
		t.Fatalf("test backend: %v", err)
	}
	if env.engine.Backend() != before {
		t.Fatalf("TestBackend must not switch backends")
	}

	if v, ok := env.engine.GetClientParam("appID"); !ok || v != "mpintest-app" {
		t.Fatalf("unexpected appID %q", v)
	}
	if v, ok := env.engine.GetClientParam("accessNumberDigits"); !ok || v != "7" {
		t.Fatalf("unexpected accessNumberDigits %q", v)
	}
}

func TestEngine_BackendNotSet(t *testing.T) {
	ctx := context.Background()
	e, err := New().WithCrypto(mpintest.NewCrypto()).Build(ctx)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()

	u := e.MakeNewUser("tom@example.com", "")
	requireCode(t, e.StartRegistration(ctx, u, RegistrationRequest{}), status.FlowError)
	requireCode(t, e.CheckAccessNumber("1234567"), status.FlowError)
	if len(e.ListUsers()) != 0 {
		t.Fatalf("expected no users")
	}
}

func TestEngine_ServiceDetailsAndAccessCode(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := context.Background()

	sd, err := env.engine.GetServiceDetails(ctx, env.srv.URL)
	if err != nil {
		t.Fatalf("service details: %v", err)
	}
	if sd.Name != "mpintest" || sd.RPSPrefix != "rps" || sd.BackendURL != env.srv.URL {
		t.Fatalf("unexpected service details %+v", sd)
	}

	code, err := env.engine.GetAccessCode(ctx, env.srv.URL+"/authz")
	if err != nil {
		t.Fatalf("get access code: %v", err)
	}
	if err := env.engine.CheckAccessNumber(code); err != nil {
		t.Fatalf("issued code fails checksum: %v", err)
	}
	if err := env.engine.AbortSession(ctx, code); err != nil {
		t.Fatalf("abort session: %v", err)
	}
	_, err = env.engine.GetSessionDetails(ctx, code)
	requireCode(t, err, status.HTTPRequestError)
}

func TestEngine_ClosedEngineRejectsCalls(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	env.engine.Close()
	env.engine.Close()

	u := env.engine.MakeNewUser("uma@example.com", "")
	err := env.engine.StartRegistration(context.Background(), u, RegistrationRequest{})
	requireCode(t, err, status.FlowError)
	if !strings.Contains(err.Error(), "closed") {
		t.Fatalf("unexpected message %v", err)
	}
}

func TestEngine_AuditEvents(t *testing.T) {
	env := newTestEnv(t, mpintest.DefaultOptions())
	ctx := WithCorrelationID(context.Background(), "req-42")
	u := env.engine.MakeNewUser("vera@example.com", "")
	if err := env.engine.StartRegistration(ctx, u, RegistrationRequest{}); err != nil {
		t.Fatalf("start registration: %v", err)
	}

	var started *AuditEvent
	events := env.drainEvents()
	for i := range events {
		if events[i].EventType == auditEventRegistrationStarted {
			started = &events[i]
		}
	}
	if started == nil {
		t.Fatalf("expected registration_started in %v", events)
	}
	if started.CorrelationID != "req-42" || started.UserID != u.ID() || !started.Success {
		t.Fatalf("unexpected event %+v", *started)
	}
	if started.MPinID != u.MPinIDHex() || started.Backend != u.Backend() {
		t.Fatalf("expected identity fields on event %+v", *started)
	}
	if events[0].EventType != auditEventStoreLoaded {
		t.Fatalf("expected store_loaded first, got %s", events[0].EventType)
	}
}

func TestEngine_FinishAuthenticationSession(t *testing.T) {
	srv := mpintest.NewServer(mpintest.DefaultOptions())
	t.Cleanup(srv.Close)
	ctx := context.Background()
	crypto := mpintest.NewCrypto()
	store := storage.NewMemory()

	build := func(verifier *authresult.TokenManager) *Engine {
		cfg := DefaultConfig()
		cfg.Backend = srv.URL
		b := New().WithConfig(cfg).WithCrypto(crypto).WithStorage(store)
		if verifier != nil {
			b.WithSessionVerifier(verifier)
		}
		e, err := b.Build(ctx)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		t.Cleanup(e.Close)
		return e
	}

	e := build(srv.Tokens)
	env := &testEnv{engine: e, srv: srv, crypto: crypto}
	u := env.register(t, "sam@example.com", "1234")

	sess, err := e.StartAuthentication(ctx, u, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	token, claims, err := e.FinishAuthenticationSession(ctx, u, sess, []byte("1234"))
	if err != nil {
		t.Fatalf("finish authentication session: %v", err)
	}
	if token == "" || claims.UserID != "sam@example.com" || claims.MPinID != u.MPinIDHex() || claims.Issuer != "mpintest" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	other, err := authresult.NewTokenManager(authresult.TokenConfig{
		SigningMethod: authresult.MethodHS256,
		PrivateKey:    []byte("a-key-the-relying-party-never-used"),
		Issuer:        "mpintest",
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	forged := build(other)
	fu, ok := forged.LookupUser("sam@example.com")
	if !ok {
		t.Fatalf("user not loaded from shared store")
	}
	sess, err = forged.StartAuthentication(ctx, fu, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	_, _, err = forged.FinishAuthenticationSession(ctx, fu, sess, []byte("1234"))
	requireCode(t, err, status.ResponseParseError)

	unverified := build(nil)
	vu, _ := unverified.LookupUser("sam@example.com")
	sess, err = unverified.StartAuthentication(ctx, vu, "")
	if err != nil {
		t.Fatalf("start authentication: %v", err)
	}
	srv.ResetHits()
	_, _, err = unverified.FinishAuthenticationSession(ctx, vu, sess, []byte("1234"))
	requireCode(t, err, status.FlowError)
	if srv.Hits("/rps/pass1") != 0 {
		t.Fatalf("authentication ran without a verifier")
	}
}
