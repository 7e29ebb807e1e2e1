package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/anchor/internal/blob"
	"github.com/roach88/anchor/internal/config"
	"github.com/roach88/anchor/internal/document"
	"github.com/roach88/anchor/internal/ledger"
	"github.com/roach88/anchor/internal/ledger/kafka"
	"github.com/roach88/anchor/internal/metrics"
	"github.com/roach88/anchor/internal/mint"
	"github.com/roach88/anchor/internal/multipolicy"
	"github.com/roach88/anchor/internal/policy"
	"github.com/roach88/anchor/internal/store"
	"github.com/roach88/anchor/internal/topic"
	"github.com/roach88/anchor/internal/workers"
)

// app holds the components a command works with. Commands open it, use
// what they need and close it.
type app struct {
	cfg     config.Config
	store   *store.Store
	ledger  ledger.Ledger
	blobs   blob.Store
	metrics *metrics.Metrics
	topics  *topic.Client
	pool    *workers.Pool

	documents *document.Service
	mint      *mint.Service

	closers []func() error
}

// loadConfig reads the config file named by --config and applies flag
// overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openApp wires every component from the configuration.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	slog.DebugContext(ctx, "opening database", "path", a.cfg.Database)
	st, err := store.Open(a.cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	switch a.cfg.Ledger.Backend {
	case config.LedgerKafka:
		kl, err := kafka.New(ctx, a.cfg.Ledger.Brokers, a.cfg.Ledger.TopicPrefix)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to kafka", err)
		}
		a.ledger = kl
		a.closers = append(a.closers, func() error { kl.Close(); return nil })
	default:
		a.ledger = st
	}

	switch a.cfg.Storage.Backend {
	case config.StorageRedis:
		r, err := blob.NewRedis(ctx, a.cfg.Storage.RedisURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		a.blobs = r
		a.closers = append(a.closers, r.Close)
	default:
		a.blobs = st.Blobs()
	}

	a.topics = topic.NewClient(a.ledger, a.blobs, a.cfg.Ledger.Operator, topic.WithMetrics(a.metrics))

	a.pool = workers.New(workers.Config{
		Size:          a.cfg.Mint.Workers,
		MaxRetries:    a.cfg.Mint.MaxRetries,
		RetryInterval: a.cfg.Mint.RetryInterval,
		Metrics:       a.metrics,
	})
	a.closers = append(a.closers, func() error { a.pool.Close(); return nil })

	a.documents = document.NewService(st, a.topics, document.NewJWSSigner(st))
	a.mint = mint.NewService(st, st, st, a.topics, a.pool,
		mint.WithGroups(st, func(account string) mint.Publisher { return a.topics.WithPayer(account) }),
		mint.WithRequests(st),
		mint.WithMetrics(a.metrics),
		mint.WithBatchSize(a.cfg.Mint.BatchSize),
	)
	return nil
}

// syncService builds the reconciler for one policy.
func (a *app) syncService(p policy.Policy) *multipolicy.Service {
	return multipolicy.NewService(p, a.store, a.topics, a.mint,
		multipolicy.WithUserChunk(a.cfg.Sync.UserChunk),
		multipolicy.WithMetrics(a.metrics),
	)
}

// health reports whether the database answers.
func (a *app) health(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Close waits for background mints and releases resources in reverse
// order of acquisition.
func (a *app) Close() error {
	if a.mint != nil {
		a.mint.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
