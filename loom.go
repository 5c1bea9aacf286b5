package loom

import (
	"context"
	"log/slog"

	"github.com/loomhq/loom/id"
)

// ID is the primary identifier type for all engine entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Option configures a Core.
type Option func(*Core) error

// Storer is the minimal store interface held by the Core. It covers
// lifecycle operations only. The composite store.Store interface is used
// by the subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// loopRunner is an internal interface for background loop lifecycle
// (pause watcher, state sweeper, trigger scheduler).
type loopRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Core is the root coordinator holding configuration, the logger, the
// store, and background loop lifecycles. The engine package builds the
// full execution surface on top of it; this split keeps the root package
// importable by every subsystem without cycles.
type Core struct {
	config Config
	logger *slog.Logger
	store  Storer
	loops  []loopRunner

	started bool
}

// New creates a new Core with the given options.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the core's logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// Store returns the core's store.
func (c *Core) Store() Storer { return c.store }

// Config returns a copy of the core's configuration.
func (c *Core) Config() Config { return c.config }

// AddLoop registers a background loop started with the core.
// Called by the engine package during wiring.
func (c *Core) AddLoop(l loopRunner) { c.loops = append(c.loops, l) }

// Start migrates the store and starts all registered background loops.
func (c *Core) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	if err := c.store.Migrate(ctx); err != nil {
		return err
	}
	for _, l := range c.loops {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down background loops and closes the store.
func (c *Core) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.loops) - 1; i >= 0; i-- {
			if err := c.loops[i].Stop(ctx); err != nil {
				c.logger.Error("loop stop error", "error", err)
			}
		}
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently advanced runs.
func WithConcurrency(n int) Option {
	return func(c *Core) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; typically it is a store.Store which embeds all
// subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Core) error {
		c.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Core) error {
		c.config = cfg
		return nil
	}
}
