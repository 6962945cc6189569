package toystory

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/NguyenMinh4869/toystory/cart"
	internalaudit "github.com/NguyenMinh4869/toystory/internal/audit"
	"github.com/NguyenMinh4869/toystory/session"
)

// Builder assembles an [Engine] or an [App]. A Builder can be built once.
type Builder struct {
	config Config
	store  session.TabStore

	accounts  AccountService
	auditSink AuditSink
	logger    *log.Logger
	cartOpts  []cart.Option

	built bool
}

// New returns a Builder carrying [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStorage sets the tab's session storage. Its Origin becomes the engine's
// tab id. Required.
func (b *Builder) WithStorage(store session.TabStore) *Builder {
	b.store = store
	return b
}

// WithAccountService sets the REST collaborator used by Login and profile
// fetches. Without one, Login returns ErrEngineNotReady and Refresh never
// fetches profiles.
func (b *Builder) WithAccountService(svc AccountService) *Builder {
	b.accounts = svc
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger replaces the default logger ([log.Default]). A nil logger
// silences the engine.
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	if l == nil {
		b.logger = log.New(io.Discard, "", 0)
	}
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

// WithCartOptions configures the cart created by [Builder.BuildApp].
func (b *Builder) WithCartOptions(opts ...cart.Option) *Builder {
	b.cartOpts = append(b.cartOpts, opts...)
	return b
}

// Build validates the configuration and starts the engine. With Sync.Enabled
// the storage watch is established before the initial refresh, so no mutation
// from another tab can fall between the two.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("session storage required")
	}

	logger := b.logger
	if logger == nil {
		logger = log.Default()
	} else if ls, ok := b.store.(interface{ SetLogger(*log.Logger) }); ok {
		ls.SetLogger(logger)
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		tabID:    b.store.Origin(),
		accounts: b.accounts,
		logger:   logger,
		metrics:  NewMetrics(cfg.Metrics),
		subs:     make(map[uint64]func(SessionSnapshot)),
		state:    sessionState{state: StateUnknown},
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
		OnDrop: func(ev internalaudit.Event, total uint64) {
			// First drop, then every 100th.
			if total == 1 || total%100 == 0 {
				engine.logf("audit buffer full, dropped %s (total %d)", ev.EventType, total)
			}
		},
		OnSinkPanic: func(ev internalaudit.Event, r any) {
			engine.logf("audit sink panicked on %s: %v", ev.EventType, r)
		},
	}, b.auditSink)

	if cfg.Sync.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := b.store.Watch(ctx)
		if err != nil {
			cancel()
			engine.metricInc(MetricStorageUnavailable)
			engine.logf("cross-tab sync disabled, storage watch failed: %v", err)
		} else {
			engine.stopSync = cancel
			engine.syncDone = make(chan struct{})
			go engine.listen(ctx, events)
		}
	}

	if cfg.Sync.RefreshOnStart {
		engine.Refresh(context.Background())
	}

	b.built = true
	return engine, nil
}

// BuildApp builds the engine and a fresh cart and bundles them.
func (b *Builder) BuildApp() (*App, error) {
	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &App{
		Session: engine,
		Cart:    cart.New(b.cartOpts...),
	}, nil
}
