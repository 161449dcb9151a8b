package goMPin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goMPin/authresult"
	internalaudit "github.com/MrEthical07/goMPin/internal/audit"
	"github.com/MrEthical07/goMPin/internal/flows"
	"github.com/MrEthical07/goMPin/internal/persist"
	"github.com/MrEthical07/goMPin/internal/transport"
	"github.com/MrEthical07/goMPin/status"
	"github.com/MrEthical07/goMPin/storage"
)

// Builder assembles an Engine.
//
// Builder instances are intended to be configured during initialization and then used once.
type Builder struct {
	config Config

	crypto     Crypto
	storage    Storage
	httpClient *http.Client
	auditSink  AuditSink
	sessions   *authresult.TokenManager

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCrypto sets the crypto engine. It is required.
//
// The crypto engine also keeps pending registration tokens, so it must be
// backed by storage that survives as long as the Storage passed to
// WithStorage.
func (b *Builder) WithCrypto(c Crypto) *Builder {
	b.crypto = c
	return b
}

// WithSessionVerifier sets the manager FinishAuthenticationSession checks
// relying-party session tokens with. It needs the relying party's
// verification key only.
func (b *Builder) WithSessionVerifier(tm *authresult.TokenManager) *Builder {
	b.sessions = tm
	return b
}

// WithStorage sets where the identity set is persisted. Without it the
// engine keeps users in memory only.
func (b *Builder) WithStorage(s Storage) *Builder {
	b.storage = s
	return b
}

// WithHTTPClient sets the client used for every backend call. A client with
// a zero Timeout gets Config.HTTPTimeout applied to a copy.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithTrustedDomains replaces the trusted-domain allow-list.
func (b *Builder) WithTrustedDomains(domains ...string) *Builder {
	b.config.TrustedDomains = append([]string(nil), domains...)
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads the persisted identity set and,
// when Config.Backend is set, fetches its client settings.
//
// A store that cannot be read or that holds an inconsistent identity fails
// the build with a StorageError; no partially loaded engine is returned.
func (b *Builder) Build(ctx context.Context) (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.crypto == nil {
		return nil, ErrCryptoRequired
	}

	st := b.storage
	if st == nil {
		st = storage.NewMemory()
	}

	engine := &Engine{
		config:     cfg,
		client:     newTransport(cfg, b.httpClient),
		crypto:     b.crypto,
		storage:    st,
		sessions:   b.sessions,
		metrics:    NewMetrics(cfg.Metrics),
		users:      make(map[string]*User),
		logoutData: make(map[string]flows.LogoutData),
	}

	sink := b.auditSink
	if sink == nil {
		sink = NoOpSink{}
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	if err := engine.load(ctx); err != nil {
		engine.Close()
		return nil, err
	}

	if cfg.Backend != "" {
		if err := engine.SetBackend(ctx, cfg.Backend, cfg.RPSPrefix); err != nil {
			engine.Close()
			return nil, err
		}
	}

	b.built = true
	return engine, nil
}

func newTransport(cfg Config, hc *http.Client) *transport.Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	} else if hc.Timeout == 0 {
		clone := *hc
		clone.Timeout = cfg.HTTPTimeout
		hc = &clone
	}

	client := &transport.Client{
		HTTP:        hc,
		UserAgent:   cfg.UserAgent,
		MaxBodySize: cfg.MaxResponseBytes,
	}
	if len(cfg.CustomHeaders) > 0 {
		client.SetHeaders(cfg.CustomHeaders)
	}
	client.SetPersistentHeader(transport.HeaderCID, cfg.CID)
	client.SetTrustedDomains(cfg.TrustedDomains)
	return client
}

// load replaces the tracked set with what storage holds.
func (e *Engine) load(ctx context.Context) error {
	data, err := e.storage.GetData(ctx)
	if err != nil {
		return status.Newf(status.StorageError, "read users: %v", err)
	}
	users, err := persist.Decode(data, e.crypto)
	if err != nil {
		e.emitAudit(ctx, auditEventStoreLoaded, false, nil, err, nil)
		return err
	}

	e.mu.Lock()
	for _, u := range users {
		e.users[u.Key()] = u
	}
	e.mu.Unlock()

	e.emitAudit(ctx, auditEventStoreLoaded, true, nil, nil, func() map[string]string {
		return map[string]string{"users": fmt.Sprint(len(users))}
	})
	return nil
}
