package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-docintel/internal/dispatch"
	"github.com/polisai/polis-docintel/internal/extraction"
	"github.com/polisai/polis-docintel/internal/fallback"
	"github.com/polisai/polis-docintel/internal/governance"
	"github.com/polisai/polis-docintel/internal/parser"
	"github.com/polisai/polis-docintel/internal/pipeline"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/internal/provider/anthropic"
	"github.com/polisai/polis-docintel/internal/provider/gemini"
	"github.com/polisai/polis-docintel/internal/provider/openai"
	"github.com/polisai/polis-docintel/internal/reasoning"
	"github.com/polisai/polis-docintel/internal/registry"
	"github.com/polisai/polis-docintel/internal/rules"
	"github.com/polisai/polis-docintel/internal/schedule"
	"github.com/polisai/polis-docintel/internal/source"
	"github.com/polisai/polis-docintel/pkg/config"
	"github.com/polisai/polis-docintel/pkg/storage"
	"github.com/polisai/polis-docintel/pkg/telemetry"
)

// app is the fully wired pipeline for one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	providers *provider.Set
	registry  *registry.Registry
	pacer     *governance.Pacer
	prefs     *dispatch.PreferenceStore
	store     storage.RunStore
	orch      *pipeline.Orchestrator
	httpOrch  *pipeline.Orchestrator
	gcs       *gcs.Client

	sched         schedule.Scheduler
	probeMu       sync.Mutex
	probeCtx      context.Context
	probeInterval time.Duration
	stopProbes    schedule.Handle
}

// newApp wires every component from cfg. Missing credentials are not an
// error: the affected providers are registered as unconfigured.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(),
		sched:   schedule.TickerScheduler{RunImmediately: true},
		prefs:   dispatch.NewPreferenceStore(cfg.Preferences),
	}

	a.registry = registry.New(
		registry.WithConfig(cfg.Registry.ToRegistry()),
		registry.WithLogger(logger),
		registry.WithObserver(a.metrics.ObserveProviderStatus),
	)
	a.providers = a.buildProviders(ctx)
	a.pacer = governance.NewPacer(cfg.Pipeline.PacerConfigs())

	d := dispatch.New(a.registry, a.providers,
		dispatch.WithPacer(a.pacer),
		dispatch.WithTimeouts(governance.NewTimeoutManager(governance.TimeoutConfig{CallTimeout: cfg.Pipeline.CallTimeout})),
		dispatch.WithObserver(a.metrics),
		dispatch.WithLogger(logger),
	)

	var synth *fallback.Synthesizer
	if cfg.Fallback.Seed != nil {
		synth = fallback.NewSeeded(*cfg.Fallback.Seed)
	} else {
		synth = fallback.New(nil)
	}

	validator, err := parser.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("compile document schemas: %w", err)
	}

	reasonOpts := []reasoning.Option{reasoning.WithLogger(logger)}
	if cfg.Rules.Dir != "" {
		reasonOpts = append(reasonOpts, reasoning.WithRules(reasoning.NewLocalRulesProvider(cfg.Rules.Dir)))
	}
	engine, err := newRulesEngine(ctx, cfg.Rules, logger)
	if err != nil {
		return nil, err
	}
	reasonOpts = append(reasonOpts, reasoning.WithPreflight(engine))

	objects, err := a.newObjectReader(ctx)
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, err
	}

	pc := pipeline.Config{
		Extractor:        extraction.New(d, a.prefs, synth, validator, logger),
		Reasoner:         reasoning.New(d, a.prefs, synth, reasonOpts...),
		Loader:           a.newLoader(objects),
		Store:            a.store,
		Recorder:         a.metrics,
		Logger:           logger,
		MaxDocumentBytes: cfg.Pipeline.MaxDocumentBytes,
		Concurrency:      cfg.Pipeline.Concurrency,
	}
	a.orch = pipeline.New(pc)

	// HTTP callers do not own the host: local paths are confined to
	// sources.local_root, or refused when it is unset.
	local := source.WithoutLocalFiles()
	if cfg.Sources.LocalRoot != "" {
		local = source.WithLocalRoot(cfg.Sources.LocalRoot)
	}
	pc.Loader = a.newLoader(objects, local)
	a.httpOrch = pipeline.New(pc)

	return a, nil
}

func (a *app) buildProviders(ctx context.Context) *provider.Set {
	set := provider.NewSet()
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	pc := a.cfg.Providers

	if pc.OpenAI.Configured() {
		set.Put(openai.New(openai.Config{BaseURL: pc.OpenAI.BaseURL, APIKey: pc.OpenAI.Key(), Model: pc.OpenAI.Model}, httpClient, a.logger))
	}
	a.registry.Register(openai.ID, pc.OpenAI.Configured())

	if pc.Anthropic.Configured() {
		set.Put(anthropic.New(anthropic.Config{BaseURL: pc.Anthropic.BaseURL, APIKey: pc.Anthropic.Key(), Model: pc.Anthropic.Model}, httpClient, a.logger))
	}
	a.registry.Register(anthropic.ID, pc.Anthropic.Configured())

	geminiReady := false
	if pc.Gemini.Configured() {
		client, err := gemini.New(ctx, gemini.Config{ProjectID: pc.Gemini.ProjectID, Region: pc.Gemini.Region, Model: pc.Gemini.Model}, a.logger)
		if err != nil {
			a.logger.Warn("Gemini provider unavailable", "error", err)
		} else {
			set.Put(client)
			geminiReady = true
		}
	}
	a.registry.Register(gemini.ID, geminiReady)

	a.logger.Info("Providers initialized", "providers", set.IDs())
	return set
}

func newRulesEngine(ctx context.Context, cfg config.RulesConfig, logger *slog.Logger) (*rules.Engine, error) {
	opts := rules.Options{CacheMaxEntries: cfg.CacheEntries, Logger: logger}
	if cfg.RegoDir != "" {
		modules, err := rules.LoadModules(cfg.RegoDir)
		if err != nil {
			return nil, fmt.Errorf("load rego modules: %w", err)
		}
		opts.Modules = modules
	}
	engine, err := rules.NewEngine(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("compile preflight rules: %w", err)
	}
	return engine, nil
}

func (a *app) newObjectReader(ctx context.Context) (source.ObjectReader, error) {
	if !a.cfg.Sources.GCSEnabled {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a.gcs = client
	return source.NewGCSReader(client), nil
}

func (a *app) newLoader(objects source.ObjectReader, extra ...source.Option) *source.Loader {
	opts := []source.Option{
		source.WithMaxBytes(a.cfg.Pipeline.MaxDocumentBytes),
		source.WithLogger(a.logger),
	}
	if objects != nil {
		opts = append(opts, source.WithObjectReader(objects))
	}
	return source.NewLoader(append(opts, extra...)...)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.RunStore, error) {
	switch cfg.Driver {
	case config.StorageNone:
		return nil, nil
	case config.StorageSQLite:
		s, err := storage.OpenSQLiteRunStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageFirestore:
		s, err := storage.NewFirestoreRunStore(ctx, cfg.ProjectID, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewMemoryRunStore(), nil
	}
}

// startBackground starts the probe loop and, when a config file is in use,
// hot reload of preferences, pacing, registry policy and the probe interval.
func (a *app) startBackground(ctx context.Context, configPath string) (stop func(), err error) {
	a.probeMu.Lock()
	a.probeCtx = ctx
	a.restartProbesLocked(a.cfg.Registry.ProbeInterval)
	a.probeMu.Unlock()

	stopProbes := func() {
		a.probeMu.Lock()
		defer a.probeMu.Unlock()
		a.stopProbes.Stop()
		a.stopProbes = noopHandle{}
	}

	if configPath == "" {
		return stopProbes, nil
	}
	w, err := config.NewWatcher(configPath, a.applyReload, a.logger)
	if err != nil {
		stopProbes()
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		stopProbes()
		return nil, err
	}
	return func() {
		_ = w.Stop()
		stopProbes()
	}, nil
}

// restartProbesLocked replaces the probe loop. A zero interval disables it.
// Callers hold probeMu.
func (a *app) restartProbesLocked(interval time.Duration) {
	if a.stopProbes != nil {
		a.stopProbes.Stop()
	}
	a.stopProbes = noopHandle{}
	a.probeInterval = interval
	if interval > 0 && a.probeCtx != nil {
		a.stopProbes = a.registry.StartProbing(a.probeCtx, a.sched, interval, a.prober())
	}
}

// prober probes through the provider set and counts outcomes.
func (a *app) prober() registry.Prober {
	return registry.ProberFunc(func(ctx context.Context, id string) error {
		err := a.providers.Probe(ctx, id)
		a.metrics.ObserveProbe(id, err)
		return err
	})
}

// applyReload swaps the parts of the configuration that can change at
// runtime, restarting the probe loop when its interval changed. Credentials,
// sources and storage need a restart.
func (a *app) applyReload(cfg *config.Config) {
	a.prefs.Store(cfg.Preferences)
	a.pacer.Configure(cfg.Pipeline.PacerConfigs())
	a.registry.Configure(cfg.Registry.ToRegistry())

	a.probeMu.Lock()
	if a.probeCtx != nil && cfg.Registry.ProbeInterval != a.probeInterval {
		a.logger.Info("Probe interval changed", "interval", cfg.Registry.ProbeInterval.String())
		a.restartProbesLocked(cfg.Registry.ProbeInterval)
	}
	a.probeMu.Unlock()

	a.metrics.RecordConfigReload("success")
	a.logger.Info("Preferences reloaded",
		"ocr", cfg.Preferences.OCR,
		"compliance", cfg.Preferences.Compliance,
		"classification", cfg.Preferences.Classification,
	)
}

func (a *app) close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Close())
	}
	if a.gcs != nil {
		errs = append(errs, a.gcs.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Shutdown cleanup failed", "error", err)
	}
}

type noopHandle struct{}

func (noopHandle) Stop() {}

// shutdownTimeout bounds graceful shutdown of the server and exporters.
const shutdownTimeout = 10 * time.Second
