package goMPin

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goMPin/authresult"
	"github.com/MrEthical07/goMPin/identity"
	internalaudit "github.com/MrEthical07/goMPin/internal/audit"
	"github.com/MrEthical07/goMPin/internal/flows"
	"github.com/MrEthical07/goMPin/internal/persist"
	"github.com/MrEthical07/goMPin/internal/settings"
	"github.com/MrEthical07/goMPin/internal/transport"
	"github.com/MrEthical07/goMPin/status"
)

// Engine drives registration and authentication against one backend at a
// time and owns the tracked identity set.
//
// Engine methods are safe for concurrent use. A session returned by
// ConfirmRegistration or StartAuthentication belongs to one caller and is
// consumed by the matching Finish call.
type Engine struct {
	config   Config
	client   *transport.Client
	crypto   Crypto
	storage  Storage
	sessions *authresult.TokenManager
	audit    *internalaudit.Dispatcher
	metrics  *Metrics

	mu         sync.RWMutex
	backendURL string
	backendKey string
	settings   *settings.ClientSettings
	users      map[string]*User
	logoutData map[string]flows.LogoutData

	persistMu sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

var flowMetrics = flows.Metrics{
	RegistrationStarted:   int(MetricRegistrationStarted),
	RegistrationConfirmed: int(MetricRegistrationConfirmed),
	RegistrationFinished:  int(MetricRegistrationFinished),
	AuthSuccess:           int(MetricAuthSuccess),
	AuthFailure:           int(MetricAuthFailure),
	UserBlocked:           int(MetricUserBlocked),
	TimePermitCacheHit:    int(MetricTimePermitCacheHit),
	TimePermitStoreHit:    int(MetricTimePermitStoreHit),
	TimePermitAuthority:   int(MetricTimePermitAuthority),
	Logout:                int(MetricLogout),
}

// Close flushes pending audit events. Operations started after Close fail
// with a FlowError.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.audit.Close()
	})
}

// MetricsSnapshot copies the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// SetBackend fetches <backendURL>/<prefix>/clientSettings and makes it the
// active backend. An empty prefix uses Config.RPSPrefix. On failure the
// previous backend, if any, stays active.
func (e *Engine) SetBackend(ctx context.Context, backendURL, prefix string) error {
	if err := e.usable(); err != nil {
		return err
	}
	base, err := normalizeBackend(backendURL)
	if err != nil {
		return err
	}

	cs, err := e.fetchSettings(ctx, base, prefix)
	if err != nil {
		e.emitAudit(ctx, auditEventBackendFailed, false, nil, err, func() map[string]string {
			return map[string]string{"backend": settings.BackendKey(base)}
		})
		return err
	}

	e.mu.Lock()
	e.backendURL = base
	e.backendKey = settings.BackendKey(base)
	e.settings = &cs
	e.mu.Unlock()

	e.emitAudit(ctx, auditEventBackendSet, true, nil, nil, func() map[string]string {
		return map[string]string{"use_permits": boolString(cs.UsePermits)}
	})
	return nil
}

// TestBackend fetches and validates a backend's client settings without
// making it active.
func (e *Engine) TestBackend(ctx context.Context, backendURL, prefix string) error {
	if err := e.usable(); err != nil {
		return err
	}
	base, err := normalizeBackend(backendURL)
	if err != nil {
		return err
	}
	_, err = e.fetchSettings(ctx, base, prefix)
	return err
}

func (e *Engine) fetchSettings(ctx context.Context, base, prefix string) (settings.ClientSettings, error) {
	if prefix == "" {
		prefix = e.config.RPSPrefix
	}
	res, err := e.client.Call(ctx, status.StepClientSettings, http.MethodGet, settings.SettingsURL(base, prefix), nil, nil)
	if err != nil {
		return settings.ClientSettings{}, e.observe(ctx, err)
	}
	cs, err := settings.Parse(res.Body, base)
	if err != nil {
		return settings.ClientSettings{}, status.Newf(status.ResponseParseError, "client settings: %v", err)
	}
	return cs, nil
}

func normalizeBackend(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", status.Newf(status.FlowError, "Invalid backend URL %q", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Backend returns the active backend URL, empty before SetBackend.
func (e *Engine) Backend() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backendURL
}

// BackendKey returns the active backend without scheme. Users are keyed by
// it.
func (e *Engine) BackendKey() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backendKey
}

// GetClientParam returns a value from the active backend's client settings
// document, formatted as text.
func (e *Engine) GetClientParam(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.settings == nil {
		return "", false
	}
	return e.settings.Param(key)
}

// SetCustomHeaders merges headers into every later request.
func (e *Engine) SetCustomHeaders(headers map[string]string) error {
	for k, v := range headers {
		if !validHeader(k, v) {
			return status.Newf(status.FlowError, "Invalid custom header %q", k)
		}
	}
	e.client.SetHeaders(headers)
	return nil
}

// ClearCustomHeaders drops custom headers. The CID header is kept.
func (e *Engine) ClearCustomHeaders() {
	e.client.ClearHeaders()
}

// SetCID sets the X-MIRACL-CID header. An empty cid removes it.
func (e *Engine) SetCID(cid string) error {
	if !validHeader(transport.HeaderCID, cid) {
		return status.New(status.FlowError, "Invalid CID")
	}
	e.client.SetPersistentHeader(transport.HeaderCID, cid)
	return nil
}

// AddTrustedDomain adds a hostname to the allow-list. Once the list is non
// empty every request must use https to a listed host or a subdomain of
// one.
func (e *Engine) AddTrustedDomain(domain string) {
	domains := append(e.client.TrustedDomains(), domain)
	e.client.SetTrustedDomains(domains)
}

// ClearTrustedDomains opens the trust guard.
func (e *Engine) ClearTrustedDomains() {
	e.client.ClearTrustedDomains()
}

func (e *Engine) TrustedDomains() []string {
	return e.client.TrustedDomains()
}

// CheckURL applies the trust guard to rawURL without sending anything.
func (e *Engine) CheckURL(rawURL string) error {
	return e.client.CheckURL(rawURL)
}

func (e *Engine) usable() error {
	if e == nil {
		return errEngineNil
	}
	if e.closed.Load() {
		return errEngineClosed
	}
	return nil
}

// deps snapshots the active backend for one flow.
func (e *Engine) deps() (flows.Deps, string, error) {
	if err := e.usable(); err != nil {
		return flows.Deps{}, "", err
	}
	e.mu.RLock()
	cs := e.settings
	backendURL := e.backendURL
	backendKey := e.backendKey
	e.mu.RUnlock()
	if cs == nil {
		return flows.Deps{}, "", errBackendNotSet
	}

	d := e.baseDeps()
	d.Settings = *cs
	d.Backend = backendURL
	return d, backendKey, nil
}

// baseDeps serves calls that do not depend on client settings.
func (e *Engine) baseDeps() flows.Deps {
	return flows.Deps{
		Client:    e.client,
		Crypto:    e.crypto,
		Track:     e.track,
		Untrack:   e.untrack,
		Persist:   e.persistUsers,
		NewID:     uuid.NewString,
		Now:       time.Now,
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		ObserveLatency: func(d time.Duration) {
			e.metrics.Observe(MetricAuthLatency, d)
		},
		EmitAudit: e.emitAudit,
		Warn:      log.Printf,
		Metrics:   flowMetrics,
		Events:    flowEvents,
	}
}

func (e *Engine) track(u *User) {
	e.mu.Lock()
	e.users[u.Key()] = u
	e.mu.Unlock()
}

func (e *Engine) untrack(u *User) {
	key := u.Key()
	e.mu.Lock()
	if e.users[key] == u {
		delete(e.users, key)
	}
	e.mu.Unlock()
}

// persistUsers writes the whole tracked set. Writes are serialized so a
// slower, older snapshot never overwrites a newer one. Pending tokens are
// saved before the blob and settled tokens are dropped only after it.
func (e *Engine) persistUsers(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	users := e.ListAllUsers()
	data, err := persist.Encode(users)
	if err != nil {
		return err
	}
	if err := persist.StageTokens(users, e.crypto); err != nil {
		return err
	}
	if err := e.storage.SetData(ctx, data); err != nil {
		return status.Newf(status.StorageError, "write users: %v", err)
	}
	// A failed purge leaves stale tokens that the next successful write
	// removes again.
	return persist.PurgeTokens(users, e.crypto)
}

// observe counts transport-level outcomes and returns err unchanged.
func (e *Engine) observe(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch code := status.CodeOf(err); {
	case code == status.UntrustedDomainError:
		e.metricInc(MetricUntrustedDomain)
		e.emitAudit(ctx, auditEventUntrustedDomain, false, nil, err, nil)
	case code == status.NetworkError || code.Remote():
		e.metricInc(MetricHTTPError)
	}
	return err
}

// checkState rejects u unless it is in expected. An Invalid user must not
// share its id with a user tracked on the active backend; any other user
// must be the tracked instance for the active backend.
func (e *Engine) checkState(u *User, expected State) error {
	if u == nil {
		return errUserNil
	}
	current := u.State()

	e.mu.RLock()
	backendKey := e.backendKey
	var tracked *User
	if expected == StateInvalid {
		tracked = e.users[identity.Key(u.ID(), backendKey)]
	} else {
		tracked = e.users[u.Key()]
	}
	e.mu.RUnlock()

	if expected == StateInvalid {
		if tracked != nil {
			return status.Newf(status.FlowError, "User '%s' already exists for backend %s", u.ID(), backendKey)
		}
	} else {
		if tracked != u {
			return status.Newf(status.FlowError, "User '%s' is not tracked by this engine", u.ID())
		}
		if u.Backend() != backendKey {
			return status.Newf(status.FlowError, "User '%s' belongs to backend %s, active backend is %s", u.ID(), u.Backend(), backendKey)
		}
	}
	if current != expected {
		return status.Newf(status.FlowError, "Invalid User '%s' state: %s, expected %s", u.ID(), current, expected)
	}
	return nil
}

// checkEitherState accepts first or second and reports the first failure.
func (e *Engine) checkEitherState(u *User, first, second State) error {
	err := e.checkState(u, first)
	if err == nil {
		return nil
	}
	if e.checkState(u, second) == nil {
		return nil
	}
	return err
}

func (e *Engine) lookup(key string) (*User, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.users[key]
	return u, ok
}

func sortUsers(users []*User) []*User {
	sort.Slice(users, func(i, j int) bool {
		if users[i].ID() != users[j].ID() {
			return users[i].ID() < users[j].ID()
		}
		return users[i].Backend() < users[j].Backend()
	})
	return users
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func logf(format string, args ...any) {
	log.Printf("goMPin: "+format, args...)
}
