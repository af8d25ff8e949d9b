package main

import (
	"context"
	"fmt"
	"log/slog"

	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/core"
	"sehha.app/diagnosis-assistant/internal/knowledge"
	"sehha.app/diagnosis-assistant/internal/model"
	"sehha.app/diagnosis-assistant/internal/policy"
	"sehha.app/diagnosis-assistant/internal/session"
	"sehha.app/diagnosis-assistant/internal/store"
)

// engine is the wired interview stack shared by serve and chat.
type engine struct {
	bundle   *model.Bundle
	db       *store.SQLiteStore
	sessions *session.Store
	learner  *policy.Learner
	service  *core.InterviewService

	closers []func()
}

func newEngine(ctx context.Context, cfg config.Config) (*engine, error) {
	e := &engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	bundle, err := model.LoadBundle(cfg.BundlePath)
	if err != nil {
		return nil, fmt.Errorf("load model bundle: %w", err)
	}
	e.bundle = bundle
	slog.Info("Loaded model bundle", "name", bundle.Name, "features", bundle.Catalog.Len(), "conditions", bundle.Bank.Len())

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	e.db = db
	e.closers = append(e.closers, func() { db.Close() })

	persister, err := e.policyPersister(cfg)
	if err != nil {
		return nil, err
	}
	e.learner = policy.New(bundle.Catalog, persister, policy.DefaultOptions())
	// A missing or unreadable table leaves the learner empty; Load logs it.
	_ = e.learner.Load(ctx)

	gen, err := e.generator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e.sessions = session.NewStore(bundle.Catalog, cfg.SessionTTL)
	e.service = core.NewInterviewService(bundle.Catalog, bundle.Bank, e.sessions, e.learner,
		core.WithKnowledge(knowledge.NewResponder(bundle.Bank, db, gen)),
		core.WithArchive(db),
	)
	ok = true
	return e, nil
}

func (e *engine) policyPersister(cfg config.Config) (policy.Persister, error) {
	switch cfg.PolicyBackend {
	case config.PolicyBackendSQLite:
		return e.db, nil
	case config.PolicyBackendRedis:
		rs, err := store.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect policy redis: %w", err)
		}
		e.closers = append(e.closers, func() { rs.Close() })
		return rs, nil
	default:
		return policy.NewFilePersister(cfg.PolicyPath), nil
	}
}

// generator returns nil when no LLM provider is configured; the responder
// then answers from the knowledge table and the bundle only.
func (e *engine) generator(ctx context.Context, cfg config.Config) (knowledge.Generator, error) {
	switch cfg.KnowledgeProvider {
	case config.KnowledgeProviderGemini:
		g, err := knowledge.NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		e.closers = append(e.closers, g.Close)
		return g, nil
	case config.KnowledgeProviderOpenRouter:
		g, err := knowledge.NewOpenAIGenerator(knowledge.OpenAIConfig{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterModel,
		})
		if err != nil {
			return nil, fmt.Errorf("create openrouter client: %w", err)
		}
		return g, nil
	default:
		return nil, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
