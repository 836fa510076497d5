package master

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"

	"github.com/nfkplanet/planetd/internal/config"
	mastermetrics "github.com/nfkplanet/planetd/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Option configures optional Manager parameters.
type Option func(*Manager)

// WithMetrics sets the Collector used by the manager and every worker it
// creates. If c is nil, a Collector registered against
// prometheus.DefaultRegisterer is used.
func WithMetrics(c *mastermetrics.Collector) Option {
	return func(m *Manager) {
		if c != nil {
			m.metrics = c
		}
	}
}

// WithBlacklist sets the persistent blacklist collaborator. If unset, a
// blacklist loaded from and appended to cfg.Blacklist.Path is used (held
// in memory only when that path is empty).
func WithBlacklist(bl *config.Blacklist) Option {
	return func(m *Manager) {
		if bl != nil {
			m.blacklist = bl
		}
	}
}

// Manager owns the registry, worker pool, dispatcher, and ping sweeper that
// together make up one running master server.
type Manager struct {
	cfg       *config.Config
	registry  *Registry
	workers   []*Worker
	sweeper   *PingSweeper
	metrics   *mastermetrics.Collector
	blacklist *config.Blacklist
	logger    *slog.Logger

	dispatcher *Dispatcher
}

// New constructs a Manager and its worker pool, sized from
// cfg.Listen.Workers or, when zero, the detected parallelism (minimum 1).
// It does not bind any socket; call Run to start serving.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   logger.With(slog.String("component", "master.manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = mastermetrics.NewCollector(nil)
	}

	if m.blacklist == nil {
		bl, err := config.LoadBlacklist(cfg.Blacklist.Path)
		if err != nil {
			m.logger.Warn("failed to load blacklist file, starting with an empty one",
				slog.String("path", cfg.Blacklist.Path), slog.String("error", err.Error()))
			bl, _ = config.LoadBlacklist("")
		}
		m.blacklist = bl
	}

	workerCount := cfg.Listen.Workers
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
		if workerCount < 1 {
			workerCount = 1
		}
	}

	m.workers = make([]*Worker, workerCount)
	for i := range m.workers {
		m.workers[i] = newWorker(i, m.registry, cfg, m.metrics, m.logger, m.blacklist)
	}
	m.sweeper = NewPingSweeper(m.registry)

	return m
}

// Registry exposes the shared client/session registry, consumed by the
// admin introspection API.
func (m *Manager) Registry() *Registry { return m.registry }

// Addr returns the dispatcher's bound listener address. Only meaningful
// once Run has started.
func (m *Manager) Addr() net.Addr {
	if m.dispatcher == nil {
		return nil
	}
	return m.dispatcher.Addr()
}

// Run binds the listener and runs the dispatcher, every worker's
// request-drain loop, and the ping sweeper until ctx is canceled or a
// goroutine returns a fatal error. On cancellation the listener is closed
// first, cleanly refusing new connections, and then every currently
// connected client's socket is closed to unblock its read loop.
func (m *Manager) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Listen.Address, m.cfg.Listen.Port)
	d, err := NewDispatcher(addr, m.workers, m.logger)
	if err != nil {
		return fmt.Errorf("bind listener on %s: %w", addr, err)
	}
	m.dispatcher = d

	g, gCtx := errgroup.WithContext(ctx)

	for _, w := range m.workers {
		w := w
		g.Go(func() error {
			w.run(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		m.sweeper.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		return d.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		if err := d.Close(); err != nil {
			m.logger.Warn("error closing listener", slog.String("error", err.Error()))
		}
		for _, c := range m.registry.SnapshotClients() {
			c.Close()
		}
		return nil
	})

	m.logger.Info("master server listening",
		slog.String("addr", addr), slog.Int("workers", len(m.workers)))

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run master server: %w", err)
	}
	return nil
}
