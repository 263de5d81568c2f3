package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentpress/syncbridge/internal/config"
	"github.com/agentpress/syncbridge/internal/scoring/genai"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/detector"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/lock"
	"github.com/agentpress/syncbridge/pkg/resolver"
	"github.com/agentpress/syncbridge/pkg/store"
)

// stack bundles everything a command needs to run syncs. Close releases
// the underlying database handle when one was opened.
type stack struct {
	cfg    *config.Config
	coord  coordinator.Coordinator
	ledger eventstore.Store
	queue  *coordinator.EscalationQueue
	db     *sql.DB
}

func (s *stack) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// buildStack assembles adapters, ledger, locks, and the coordinator from
// configuration. extra coordinator options are applied last so callers
// can attach a publisher.
func buildStack(ctx context.Context, cfg *config.Config, extra ...coordinator.Option) (*stack, error) {
	registry := buildAdapter(entity.SourceRegistry, cfg.RegistryURL, cfg.RegistryToken)
	agent := buildAdapter(entity.SourceAgentStore, cfg.AgentStoreURL, cfg.AgentStoreToken)

	var (
		ledger eventstore.Store
		locks  lock.Manager
		db     *sql.DB
		err    error
	)
	if cfg.MemoryOnly() {
		ledger = eventstore.NewMemory()
		var lockOpts []lock.MemoryOption
		if cfg.LockAcquireTimeout > 0 {
			lockOpts = append(lockOpts, lock.WithAcquireTimeout(cfg.LockAcquireTimeout))
		}
		locks = lock.NewMemory(lockOpts...)
	} else {
		ledger, db, err = eventstore.OpenSQLite(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("opening event store: %w", err)
		}
		var lockOpts []lock.SQLiteOption
		if cfg.LockAcquireTimeout > 0 {
			lockOpts = append(lockOpts, lock.WithSQLiteAcquireTimeout(cfg.LockAcquireTimeout))
		}
		locks, err = lock.NewSQLite(db, lockOpts...)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing lock store: %w", err)
		}
	}

	res, err := buildResolver(ctx, cfg)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	queue := coordinator.NewEscalationQueue()

	opts := []coordinator.Option{
		coordinator.WithDetector(detector.New()),
		coordinator.WithResolver(res),
		coordinator.WithLockManager(locks),
		coordinator.WithEventStore(ledger),
		coordinator.WithEscalationQueue(queue),
	}
	if cfg.LockTTL > 0 {
		opts = append(opts, coordinator.WithLockTTL(cfg.LockTTL))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, coordinator.WithMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.RetryAfter > 0 {
		opts = append(opts, coordinator.WithRetryAfter(cfg.RetryAfter))
	}
	if cfg.CompactEvery > 0 {
		opts = append(opts, coordinator.WithCompactEvery(cfg.CompactEvery))
	}
	opts = append(opts, extra...)

	return &stack{
		cfg:    cfg,
		coord:  coordinator.New(registry, agent, opts...),
		ledger: ledger,
		queue:  queue,
		db:     db,
	}, nil
}

func buildAdapter(source entity.Source, baseURL, token string) store.Adapter {
	if baseURL == "" {
		return store.NewMemory(source)
	}
	var opts []store.HTTPOption
	if token != "" {
		opts = append(opts, store.WithBearerToken(token))
	}
	return store.NewHTTP(source, baseURL, opts...)
}

func buildResolver(ctx context.Context, cfg *config.Config) (resolver.Resolver, error) {
	rules := resolver.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := resolver.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("loading resolution rules: %w", err)
		}
		rules = loaded
	}

	opts := []resolver.Option{resolver.WithRules(rules)}
	if cfg.ConfidenceThreshold > 0 {
		opts = append(opts, resolver.WithThreshold(cfg.ConfidenceThreshold))
	}

	switch cfg.Scorer {
	case "", "heuristic":
		// resolver defaults to the heuristic scorer
	case "genai":
		scorer, err := genai.New(ctx, genai.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing genai scorer: %w", err)
		}
		opts = append(opts, resolver.WithScorer(scorer))
	default:
		return nil, fmt.Errorf("unknown scorer %q (want heuristic or genai)", cfg.Scorer)
	}

	return resolver.New(opts...), nil
}
