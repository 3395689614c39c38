// Package app initializes and holds the long-lived services shared by every
// command, acting as the dependency injection container.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/famewatch/enricher/internal/breaker"
	"github.com/famewatch/enricher/internal/catalog"
	"github.com/famewatch/enricher/internal/clock/system"
	"github.com/famewatch/enricher/internal/config"
	"github.com/famewatch/enricher/internal/enrich"
	sha256hash "github.com/famewatch/enricher/internal/hash/sha256"
	uuidgen "github.com/famewatch/enricher/internal/id/uuid"
	"github.com/famewatch/enricher/internal/logging"
	"github.com/famewatch/enricher/internal/metrics"
	"github.com/famewatch/enricher/internal/orchestrator"
	pubsubpub "github.com/famewatch/enricher/internal/publisher/pubsub"
	"github.com/famewatch/enricher/internal/retry"
	"github.com/famewatch/enricher/internal/rotation"
	"github.com/famewatch/enricher/internal/sentiment"
	"github.com/famewatch/enricher/internal/source/netprofile"
	"github.com/famewatch/enricher/internal/source/profileapi"
	"github.com/famewatch/enricher/internal/source/searchapi"
	"github.com/famewatch/enricher/internal/source/videoapi"
	"github.com/famewatch/enricher/internal/store/dynamo"
	"github.com/famewatch/enricher/internal/store/memory"
)

// App holds the shared, long-lived services: logger, record store, subject
// source, and publisher. It is initialized once at startup and passed to the
// commands that need it.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    catalog.RecordStore
	subjects catalog.SubjectSource
	memStore *memory.Store
	dynStore *dynamo.Store

	publisher catalog.Publisher
	pubClose  func() error

	clock  catalog.Clock
	ids    catalog.IDGenerator
	hasher catalog.Hasher
}

// New builds the container from configuration. It fails fast when a critical
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuidgen.NewGenerator(),
		hasher: sha256hash.New(),
	}

	switch cfg.Store.Provider {
	case "memory":
		a.memStore = memory.NewStoreWithLogger(logger.Named("store"))
		a.store = a.memStore
		subjects, err := loadSubjectsFile(cfg.Store.SubjectsFile)
		if err != nil {
			return nil, err
		}
		a.subjects = memory.NewSubjects(subjects)
		logger.Info("using in-memory record store",
			zap.Int("subjects", len(subjects)),
		)
	case "dynamo":
		store, err := dynamo.New(ctx, dynamo.Config{
			Table:         cfg.Store.Table,
			SubjectsTable: cfg.Store.SubjectsTable,
			Region:        cfg.Store.Region,
			Endpoint:      cfg.Store.Endpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init record store: %w", err)
		}
		a.dynStore = store
		a.store = store
		a.subjects = store
		logger.Info("using hosted record store",
			zap.String("table", cfg.Store.Table),
		)
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		pub, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
		a.pubClose = pub.Close
		logger.Info("run summaries will be published",
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	return a, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.pubClose != nil {
		if err := a.pubClose(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the record store.
func (a *App) Store() catalog.RecordStore { return a.store }

// Subjects returns the subject source.
func (a *App) Subjects() catalog.SubjectSource { return a.subjects }

// ChangeFeed returns the store's change feed.
func (a *App) ChangeFeed(ctx context.Context) (catalog.ChangeFeed, error) {
	if a.memStore != nil {
		return a.memStore.Feed(), nil
	}
	return dynamo.NewFeedForStore(ctx, dynamo.Config{
		Table:         a.cfg.Store.Table,
		SubjectsTable: a.cfg.Store.SubjectsTable,
		Region:        a.cfg.Store.Region,
		Endpoint:      a.cfg.Store.Endpoint,
	}, a.dynStore, time.Second, a.logger)
}

// Processor builds the enrichment processor with the configured sentiment
// backend.
func (a *App) Processor() (*enrich.Processor, error) {
	var classifier catalog.SentimentClassifier
	switch a.cfg.Sentiment.Backend {
	case "local":
		classifier = sentiment.NewLocal()
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("sentiment.backend is openai but OPENAI_API_KEY is not set")
		}
		classifier = sentiment.NewModel(apiKey, a.cfg.Sentiment.Model)
	default:
		return nil, fmt.Errorf("unknown sentiment backend %q", a.cfg.Sentiment.Backend)
	}
	return enrich.New(
		enrich.Config{MaxChars: a.cfg.Sentiment.MaxChars},
		a.store, classifier, a.clock, a.logger.Named("enrich"),
	), nil
}

// Orchestrator builds a collection orchestrator for the named source. Each
// call constructs fresh rotation and breaker state, scoping resilience state
// to one run of one source.
func (a *App) Orchestrator(sourceName string) (*orchestrator.Orchestrator, error) {
	adapter, credentials, anonymousOK, err := a.buildSource(sourceName)
	if err != nil {
		return nil, err
	}
	if len(credentials) == 0 && !anonymousOK {
		a.logger.Warn("no credentials loaded for source",
			zap.String("source", sourceName),
		)
	}

	manager := rotation.NewManager(rotation.Config{
		Strategy:         rotation.Strategy(a.cfg.Rotation.Strategy),
		SkipThresholdPct: a.cfg.Rotation.SkipThresholdPct,
		StalenessWindow:  a.cfg.StalenessWindow(),
	}, credentials, a.clock, a.logger.Named("rotation"))

	brk := breaker.New(breaker.Config{
		FailureThreshold: a.cfg.Breaker.FailureThreshold,
		Cooldown:         a.cfg.BreakerCooldown(),
	}, a.clock, a.logger.Named("breaker"))

	retrier := retry.New(retry.Config{
		MaxAttempts:      a.cfg.Retry.MaxAttempts,
		BaseDelay:        a.cfg.RetryBaseDelay(),
		DetectedDelayMin: time.Duration(a.cfg.Retry.DetectedDelayMinSeconds) * time.Second,
		DetectedDelayMax: time.Duration(a.cfg.Retry.DetectedDelayMaxSeconds) * time.Second,
	}, a.logger.Named("retry"))

	cfg := orchestrator.Config{
		Workers:        a.cfg.Collector.Workers,
		SubjectLimit:   a.cfg.Collector.SubjectLimit,
		AllowAnonymous: anonymousOK,
		Topic:          a.cfg.PubSub.TopicName,
	}
	if sourceName == netprofile.SourceName {
		// Only the scraped source paces between subjects.
		cfg.PaceRPS = a.cfg.Collector.PaceRPS
		cfg.JitterMax = time.Duration(a.cfg.Collector.JitterMaxMs) * time.Millisecond
	}

	return orchestrator.New(cfg, orchestrator.Deps{
		Adapter:   adapter,
		Rotation:  manager,
		Breaker:   brk,
		Retry:     retrier,
		Store:     a.store,
		Subjects:  a.subjects,
		Publisher: a.publisher,
		Clock:     a.clock,
		IDs:       a.ids,
		Hasher:    a.hasher,
		Logger:    a.logger.Named("orchestrator"),
	}), nil
}

// buildSource constructs the adapter and loads its credential pool from the
// environment. The scraped source runs without credentials when no proxies
// are configured.
func (a *App) buildSource(name string) (catalog.SourceAdapter, []catalog.Credential, bool, error) {
	switch name {
	case searchapi.SourceName:
		adapter := searchapi.New(searchapi.Config{
			BaseURL:  a.cfg.Sources.Search.BaseURL,
			EngineID: a.cfg.Sources.Search.EngineID,
			Timeout:  time.Duration(a.cfg.Sources.Search.TimeoutSeconds) * time.Second,
		}, a.logger.Named(name))
		return adapter, rotation.LoadAPIKeys("SEARCH"), false, nil

	case profileapi.SourceName:
		adapter := profileapi.New(profileapi.Config{
			BaseURL:   a.cfg.Sources.Profile.BaseURL,
			Timeout:   time.Duration(a.cfg.Sources.Profile.TimeoutSeconds) * time.Second,
			UserAgent: a.cfg.Sources.Profile.UserAgent,
		}, a.logger.Named(name))
		accounts, err := rotation.LoadAccountsFromEnv("PROFILE")
		if err != nil {
			return nil, nil, false, fmt.Errorf("load profile accounts: %w", err)
		}
		return adapter, accounts, false, nil

	case netprofile.SourceName:
		adapter := netprofile.New(netprofile.Config{
			BaseURL: a.cfg.Sources.NetProfile.BaseURL,
			Timeout: time.Duration(a.cfg.Sources.NetProfile.TimeoutSeconds) * time.Second,
		}, a.logger.Named(name))
		proxies, err := rotation.LoadProxiesFromEnv("NET")
		if err != nil {
			return nil, nil, false, fmt.Errorf("load proxies: %w", err)
		}
		return adapter, proxies, true, nil

	case videoapi.SourceName:
		adapter := videoapi.New(videoapi.Config{
			BaseURL: a.cfg.Sources.Video.BaseURL,
			Timeout: time.Duration(a.cfg.Sources.Video.TimeoutSeconds) * time.Second,
		}, a.logger.Named(name))
		return adapter, rotation.LoadAPIKeys("VIDEO"), false, nil

	default:
		return nil, nil, false, fmt.Errorf("unknown source %q (expected %s, %s, %s, or %s)",
			name, searchapi.SourceName, profileapi.SourceName, netprofile.SourceName, videoapi.SourceName)
	}
}

func loadSubjectsFile(path string) ([]catalog.Subject, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subjects file: %w", err)
	}
	var subjects []catalog.Subject
	if err := json.Unmarshal(data, &subjects); err != nil {
		return nil, fmt.Errorf("parse subjects file %s: %w", path, err)
	}
	return subjects, nil
}
