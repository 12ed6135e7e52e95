package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/canonical"
	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/clock/system"
	"github.com/chairwatch/chairwatch/internal/config"
	"github.com/chairwatch/chairwatch/internal/dedup"
	"github.com/chairwatch/chairwatch/internal/enrich"
	"github.com/chairwatch/chairwatch/internal/enrich/gemini"
	"github.com/chairwatch/chairwatch/internal/logging"
	"github.com/chairwatch/chairwatch/internal/metrics"
	"github.com/chairwatch/chairwatch/internal/notify"
	"github.com/chairwatch/chairwatch/internal/ratelimit"
	"github.com/chairwatch/chairwatch/internal/reconcile"
	"github.com/chairwatch/chairwatch/internal/retry"
	"github.com/chairwatch/chairwatch/internal/run"
	"github.com/chairwatch/chairwatch/internal/source"
	"github.com/chairwatch/chairwatch/internal/store/memory"
	"github.com/chairwatch/chairwatch/internal/store/postgres"
	"github.com/chairwatch/chairwatch/internal/verify"
)

// app holds the assembled services for one command invocation.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    catalog.Store
	clock    catalog.Clock
	pipeline *run.Pipeline

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.store.Close()
	_ = a.log.Sync()
}

// buildApp assembles the pipeline from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	clock := system.New()

	var store catalog.Store
	if cfg.DB.DSN != "" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
		}, clock)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		store = pg
	} else {
		log.Warn("no database configured, using in-memory store")
		store = memory.New(clock)
	}

	a := &app{cfg: cfg, log: log, store: store, clock: clock}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Scrape.RPSPerHost,
		DefaultBurst: cfg.Scrape.Burst,
	})
	policy := retry.DefaultPolicy()
	if cfg.Scrape.MaxRetries > 0 {
		policy.MaxAttempts = cfg.Scrape.MaxRetries
	}

	registry := source.NewRegistry()
	for _, src := range cfg.Sources {
		adapter, err := source.NewListingAdapter(source.ListingConfig{
			ID:                  src.ID,
			URL:                 src.URL,
			Language:            src.Language,
			Institution:         src.Institution,
			UserAgent:           cfg.Scrape.UserAgent,
			Timeout:             time.Duration(cfg.Scrape.TimeoutSeconds) * time.Second,
			MaxPages:            src.MaxPages,
			ItemSelector:        src.ItemSelector,
			TitleSelector:       src.TitleSelector,
			LinkSelector:        src.LinkSelector,
			InstitutionSelector: src.InstitutionSelector,
			DepartmentSelector:  src.DepartmentSelector,
			LocationSelector:    src.LocationSelector,
			ClosingSelector:     src.ClosingSelector,
			NextPageSelector:    src.NextPageSelector,
		}, limiter, clock, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			a.Close()
			return nil, err
		}
	}

	fetcher := verify.NewCollyFetcher(verify.FetcherConfig{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   time.Duration(cfg.Verify.TimeoutSeconds) * time.Second,
	})
	verifier := verify.NewVerifier(fetcher, store, clock, limiter, policy, log, verify.Config{
		FailureThreshold: cfg.Verify.FailureThreshold,
		Concurrency:      cfg.Verify.Concurrency,
	})

	classifier, err := buildClassifier(ctx, cfg.Enrich, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	cache := enrich.NewResultCache(store, clock)
	table, err := enrich.NewRankTable()
	if err != nil {
		a.Close()
		return nil, err
	}
	versions := enrich.DefaultPromptVersions()
	for task, version := range cfg.Enrich.PromptVersions {
		versions[catalog.TaskType(task)] = version
	}
	enricher := enrich.NewEnricher(classifier, cache, table, limiter, log, enrich.Config{
		PromptVersions: versions,
		MaxCalls:       cfg.Enrich.MaxCalls,
		Concurrency:    cfg.Enrich.Concurrency,
	})

	reconciler := reconcile.New(store, log, reconcile.Config{
		MinRelevance: cfg.Notify.MinRelevance,
		MaxNotify:    cfg.Notify.MaxPostings,
	})

	notifier, err := buildNotifier(ctx, cfg.Notify, log, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.Init()
		startMetricsServer(cfg.Metrics.Port, log, a)
	}

	a.pipeline = run.New(registry, canonical.New(), dedup.New(dedup.Config{
		Threshold:            cfg.Dedup.Threshold,
		InstitutionThreshold: cfg.Dedup.InstitutionThreshold,
		TitleWeight:          dedup.DefaultConfig().TitleWeight,
		InstitutionWeight:    dedup.DefaultConfig().InstitutionWeight,
		LocationWeight:       dedup.DefaultConfig().LocationWeight,
		SourcePriority:       cfg.Dedup.SourcePriority,
	}, log), verifier, enricher, cache, reconciler, notifier, store, clock, log)

	return a, nil
}

func buildClassifier(ctx context.Context, cfg config.EnrichConfig, log *zap.Logger) (catalog.Classifier, error) {
	if cfg.APIKey == "" {
		log.Warn("no classifier api key configured, enrichment disabled")
		return disabledClassifier{}, nil
	}
	return gemini.New(ctx, gemini.Config{APIKey: cfg.APIKey, Model: cfg.Model})
}

// disabledClassifier fails every task. Runs still proceed; enrichment
// errors are recorded and the postings keep whatever they already had.
type disabledClassifier struct{}

func (disabledClassifier) Classify(context.Context, catalog.TaskType, string, string) (json.RawMessage, error) {
	return nil, fmt.Errorf("%w: no api key configured", catalog.ErrClassification)
}

func (disabledClassifier) ModelID() string { return "disabled" }

func buildNotifier(ctx context.Context, cfg config.NotifyConfig, log *zap.Logger, a *app) (catalog.Notifier, error) {
	if cfg.PubSubProject == "" || cfg.PubSubTopic == "" {
		return notify.NewLogNotifier(log), nil
	}
	n, err := notify.NewPubSubNotifier(ctx, cfg.PubSubProject, cfg.PubSubTopic, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := n.Close(); err != nil {
			log.Warn("failed to close pubsub notifier", zap.Error(err))
		}
	})
	return n, nil
}

func startMetricsServer(port int, log *zap.Logger, a *app) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
}
