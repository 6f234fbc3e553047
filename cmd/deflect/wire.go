package main

import (
	"context"
	"fmt"
	"os"

	"github.com/steveyegge/deflect/internal/ai"
	"github.com/steveyegge/deflect/internal/config"
	"github.com/steveyegge/deflect/internal/cost"
	"github.com/steveyegge/deflect/internal/engine"
	"github.com/steveyegge/deflect/internal/notify"
	"github.com/steveyegge/deflect/internal/processor"
	"github.com/steveyegge/deflect/internal/settings"
	"github.com/steveyegge/deflect/internal/similarity"
	"github.com/steveyegge/deflect/internal/storage"
	"github.com/steveyegge/deflect/internal/types"
)

// deflector is the fully wired decision pipeline and job processor
type deflector struct {
	service   *engine.Service
	reasoner  *ai.Reasoner
	processor *processor.Processor
	settings  settings.Provider
	budget    *cost.Tracker
	sink      notify.Sink
}

// Close releases the result sink
func (d *deflector) Close() error {
	return d.sink.Close()
}

// newDeflector wires the reasoning backend, budgets, similarity index,
// tenant settings, decision engine, result sink and processor.
func newDeflector(ctx context.Context, cfg *config.Config, st storage.Storage) (*deflector, error) {
	reasoner, err := ai.NewReasoner(&cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoner: %w", err)
	}

	budget, err := cost.NewTracker(&cfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget tracker: %w", err)
	}

	index, err := similarity.NewIndex(st, cfg.Similarity)
	if err != nil {
		return nil, fmt.Errorf("failed to create similarity index: %w", err)
	}

	provider, err := newSettingsProvider(ctx, cfg, st)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(cfg.Engine, reasoner,
		engine.WithDuplicateChecker(st),
		engine.WithBudget(budget),
		engine.WithFeedbackStore(st),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	svc, err := engine.NewService(engine.ServiceConfig{
		Engine:    eng,
		Settings:  provider,
		Index:     index,
		Decisions: st,
		Usage:     budget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decision service: %w", err)
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	proc, err := processor.New(cfg.Processor, st, svc, processor.WithSink(sink))
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	return &deflector{
		service:   svc,
		reasoner:  reasoner,
		processor: proc,
		settings:  provider,
		budget:    budget,
		sink:      sink,
	}, nil
}

// newSettingsProvider reads tenant settings from storage. A configured
// settings file is synced into storage first so every replica sees the same
// policy.
func newSettingsProvider(ctx context.Context, cfg *config.Config, st storage.Storage) (settings.Provider, error) {
	if cfg.SettingsFile != "" {
		fp, err := settings.NewFileProvider(cfg.SettingsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings file: %w", err)
		}
		n, err := settings.Sync(ctx, fp, st)
		if err != nil {
			return nil, fmt.Errorf("failed to sync settings file: %w", err)
		}
		if n > 0 {
			fmt.Printf("Settings: Synced %d tenant(s) from %s\n", n, cfg.SettingsFile)
		}
	}
	return settings.NewStoreProvider(st), nil
}

// newSink publishes results to Kafka when enabled, otherwise to stdout
func newSink(cfg *config.Config) (notify.Sink, error) {
	if cfg.Kafka.Enabled && cfg.Kafka.ResultsTopic != "" {
		sink, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.ResultsTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to create result publisher: %w", err)
		}
		return sink, nil
	}
	return notify.NewLogSink(os.Stdout), nil
}

// queueOnly stands in for the decision pipeline in commands that only read
// or write the queue, so they run without backend credentials
type queueOnly struct{}

func (queueOnly) Decide(ctx context.Context, ticket *types.TicketData, opts engine.DecideOptions) (*types.DeflectionDecision, error) {
	return nil, fmt.Errorf("decisions are not available in this command (use 'deflect serve' or 'deflect decide')")
}

func (queueOnly) Commit(ctx context.Context, ticket *types.TicketData, decision *types.DeflectionDecision) {}

// newQueue returns a processor for queue administration. It is never started.
func newQueue(cfg *config.Config, st storage.Storage) (*processor.Processor, error) {
	return processor.New(cfg.Processor, st, queueOnly{})
}

// offlineReasoner stands in for the backend where an engine is needed only
// for feedback
type offlineReasoner struct{}

func (offlineReasoner) Categorize(ctx context.Context, req ai.CategorizeRequest) (*ai.Analysis, error) {
	return nil, fmt.Errorf("reasoning backend is not available in this command")
}

// newFeedbackEngine returns an engine that can record feedback without
// backend credentials
func newFeedbackEngine(cfg *config.Config, st storage.Storage) (*engine.Engine, error) {
	return engine.New(cfg.Engine, offlineReasoner{}, engine.WithFeedbackStore(st))
}
