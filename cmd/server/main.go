// Package main provides the entry point for the session workflow engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/session-workflow-engine/internal/commandbus"
	"github.com/helixir/session-workflow-engine/internal/config"
	"github.com/helixir/session-workflow-engine/internal/eventbus"
	"github.com/helixir/session-workflow-engine/internal/eventlog"
	"github.com/helixir/session-workflow-engine/internal/literature"
	"github.com/helixir/session-workflow-engine/internal/llm"
	"github.com/helixir/session-workflow-engine/internal/observability"
	"github.com/helixir/session-workflow-engine/internal/orchestrator"
	"github.com/helixir/session-workflow-engine/internal/papersources"
	"github.com/helixir/session-workflow-engine/internal/papersources/openalex"
	"github.com/helixir/session-workflow-engine/internal/papersources/semanticscholar"
	"github.com/helixir/session-workflow-engine/internal/projection"
	"github.com/helixir/session-workflow-engine/internal/relay"
	httpserver "github.com/helixir/session-workflow-engine/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Str("storage", cfg.Storage.Backend).Msg("session-workflow-engine starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	registry, citations := buildPaperSources(cfg.PaperSources, metrics)
	litOpts := literature.Options{Logger: logger}
	if len(registry.EnabledSources()) > 0 {
		litOpts.Resolver = registry
	} else {
		logger.Warn().Msg("no paper sources enabled, imports store identifiers without metadata")
	}

	store, err := openStorage(ctx, cfg, litOpts, logger)
	if err != nil {
		return err
	}
	defer store.close()

	events := eventbus.New(eventbus.Config{ErrorBuffer: cfg.EventBus.ErrorBuffer}, logger, metrics)
	commands := commandbus.New(logger, metrics)

	projections := projection.NewService(store.log, logger)
	events.Subscribe("projection", projections.Handle)

	emitter := eventlog.NewEmitter(store.log, events, eventlog.ContextIdentity, logger, metrics)

	generator, err := llm.NewGenerator(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create query generator: %w", err)
	}

	deps := orchestrator.Deps{
		Emitter:     emitter,
		Projections: projections,
		Artifacts:   store.artifacts,
		Commands:    commands,
		Search:      papersources.NewWebSearch(registry, logger),
		Literature:  store.literature,
		Graphs:      store.graphs,
	}
	// Typed nils must not leak into the interfaces.
	if generator != nil {
		deps.Generator = generator
		logger.Info().Str("provider", generator.Provider()).Msg("query generator configured")
	}
	if citations != nil {
		deps.Citations = citations
	}

	orch := orchestrator.New(deps, orchestrator.ConfigFromEngine(cfg.Engine), logger, metrics)
	commands.Register(orch)

	// Relays run on their own context so they can drain the events emitted
	// while the orchestrator shuts down.
	relayCtx, stopRelays := context.WithCancel(context.Background())
	defer stopRelays()
	relays, relayCtx := errgroup.WithContext(relayCtx)

	sinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	for _, sink := range sinks {
		fwd := relay.NewForwarder(sink, relay.DefaultQueueSize, logger, metrics)
		fwd.Attach(events)
		relays.Go(func() error {
			if err := fwd.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s relay: %w", sink.Name(), err)
			}
			return nil
		})
		logger.Info().Str("sink", sink.Name()).Msg("event relay started")
	}

	httpCfg := httpserver.Config{
		Address:      cfg.Server.HTTPAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Commands:  commands,
		Sessions:  projections,
		Events:    store.log,
		Artifacts: store.artifacts,
		Graphs:    store.graphs,
		Ready:     store.ready,
	}, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	if cfg.Engine.AutoRecover {
		resumed, err := orch.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover sessions: %w", err)
		}
		logger.Info().Int("resumed", resumed).Msg("session recovery complete")
	}

	services, svcCtx := errgroup.WithContext(ctx)

	services.Go(func() error {
		events.Supervise(svcCtx)
		return nil
	})

	if cfg.Kafka.CommandsEnabled {
		listener := relay.NewCommandListener(relay.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.CommandsTopic,
			GroupID: cfg.Kafka.GroupID,
		}, commands, logger, metrics)
		services.Go(func() error {
			defer func() {
				if err := listener.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close command listener")
				}
			}()
			if err := listener.Run(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("command listener: %w", err)
			}
			return nil
		})
	}

	services.Go(func() error {
		logger.Info().Str("address", httpCfg.Address).Msg("HTTP API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		services.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	// Stops the listeners once a signal arrives or any service fails.
	services.Go(func() error {
		<-svcCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}
		return nil
	})

	logger.Info().Str("http_address", httpCfg.Address).Msg("session-workflow-engine is ready")

	serveErr := services.Wait()
	if serveErr != nil {
		logger.Error().Err(serveErr).Msg("server error")
	} else {
		logger.Info().Msg("received shutdown signal")
	}

	shutdown(cfg.Server.ShutdownTimeout, orch, events, stopRelays, relays, sinks, logger)
	return serveErr
}

// shutdown stops running sessions, lets pending deliveries finish and then
// drains the relays.
func shutdown(
	timeout time.Duration,
	orch *orchestrator.Orchestrator,
	events *eventbus.Bus,
	stopRelays context.CancelFunc,
	relays *errgroup.Group,
	sinks []relay.Sink,
	logger zerolog.Logger,
) {
	logger.Info().Msg("shutting down session-workflow-engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sessions still running at shutdown")
	}
	events.Wait()

	stopRelays()
	if err := relays.Wait(); err != nil {
		logger.Error().Err(err).Msg("relay error")
	}
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Str("sink", sink.Name()).Msg("failed to close relay sink")
		}
	}

	logger.Info().Msg("session-workflow-engine shutdown complete")
}

// buildPaperSources registers the enabled paper sources. Semantic Scholar,
// when enabled, also supplies citation references for graph builds.
func buildPaperSources(cfg config.PaperSourcesConfig, metrics *observability.Metrics) (*papersources.Registry, *semanticscholar.Client) {
	registry := papersources.NewRegistry()

	var citations *semanticscholar.Client
	if cfg.SemanticScholar.Enabled {
		citations = semanticscholar.NewClient(semanticscholar.Config{
			BaseURL:    cfg.SemanticScholar.BaseURL,
			APIKey:     cfg.SemanticScholar.APIKey,
			Timeout:    cfg.SemanticScholar.Timeout,
			RateLimit:  cfg.SemanticScholar.RateLimit,
			MaxResults: cfg.SemanticScholar.MaxResults,
			Enabled:    true,
			Metrics:    metrics,
		}, nil)
		registry.Register(citations)
	}

	if cfg.OpenAlex.Enabled {
		registry.Register(openalex.New(openalex.Config{
			BaseURL:    cfg.OpenAlex.BaseURL,
			Email:      cfg.OpenAlex.Email,
			Timeout:    cfg.OpenAlex.Timeout,
			RateLimit:  cfg.OpenAlex.RateLimit,
			MaxResults: cfg.OpenAlex.MaxResults,
			Enabled:    true,
			Metrics:    metrics,
		}))
	}

	return registry, citations
}

// buildSinks creates the enabled event relay sinks.
func buildSinks(cfg *config.Config, logger zerolog.Logger) ([]relay.Sink, error) {
	var sinks []relay.Sink

	if cfg.Kafka.Enabled {
		sinks = append(sinks, relay.NewKafkaSink(relay.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}))
	}

	if cfg.NATS.Enabled {
		conn, err := relay.DialNATS(cfg.NATS.URL, logger)
		if err != nil {
			for _, sink := range sinks {
				_ = sink.Close()
			}
			return nil, err
		}
		sinks = append(sinks, relay.NewNATSSink(conn, cfg.NATS.SubjectPrefix))
	}

	return sinks, nil
}
