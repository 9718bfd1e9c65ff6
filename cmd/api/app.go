package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mediaembed/gallery/internal/api/handlers"
	"github.com/mediaembed/gallery/internal/api/middleware"
	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/internal/gallery"
	"github.com/mediaembed/gallery/internal/jobs"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/objectstore"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/internal/provider"
	"github.com/mediaembed/gallery/internal/repository"
	"github.com/mediaembed/gallery/internal/service"
	"github.com/mediaembed/gallery/internal/session"
	"github.com/mediaembed/gallery/pkg/database"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	store          repository.Store
	db             *pgxpool.Pool
	server         *http.Server
	river          *river.Client[pgx.Tx]
	sessions       *session.Registry
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

// routes groups the handlers newHTTPServer mounts. Uploads and Jobs are nil when disabled.
type routes struct {
	health     *handlers.HealthHandler
	embeddings *handlers.EmbeddingsHandler
	uploads    *handlers.UploadsHandler
	jobs       *handlers.JobsHandler
	sessions   *handlers.SessionsHandler
	metrics    http.Handler
}

// setupMetrics creates the meter provider and gallery metrics when metrics are enabled.
// When NewMeterProvider returns nil (unsupported or disabled exporter), everything is nil.
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, http.Handler, *observability.Metrics, error) {
	mp, handler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("gallery"))
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), mp); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, handler, metrics, nil
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{cfg: cfg}

	// Release whatever was opened when a later step fails.
	defer func() {
		if err != nil {
			if relErr := app.release(context.Background()); relErr != nil {
				slog.Error("release after startup error", "error", relErr)
			}
		}
	}()

	var metricsHandler http.Handler

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		app.meterProvider, metricsHandler, app.metrics, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		app.tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	// Installed unconditionally so request_id and session_id (and trace ids when tracing is on) appear in logs.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	if app.tracerProvider != nil {
		otel.SetTracerProvider(app.tracerProvider)
	}

	if app.meterProvider != nil {
		otel.SetMeterProvider(app.meterProvider)
	}

	m := app.metrics
	if m == nil {
		m = &observability.Metrics{}
	}

	logger := slog.Default()

	app.store, err = repository.Open(ctx, repository.OpenParams{Config: cfg, Metrics: app.metrics, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embedder, err := provider.New(ctx, cfg, 0, m.Inference, logger)
	if err != nil {
		return nil, err
	}

	embeddings := service.NewEmbeddingsService(service.EmbeddingsServiceParams{
		Client:        embedder,
		Repo:          app.store,
		Dimension:     cfg.EmbeddingDimension,
		DefaultMetric: models.Metric(cfg.DefaultMetric),
		Logger:        logger,
	})

	r := routes{
		health:     handlers.NewHealthHandler(app.store),
		embeddings: handlers.NewEmbeddingsHandler(embeddings),
		metrics:    metricsHandler,
	}

	objects, err := objectstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}

	if objects != nil {
		r.uploads = handlers.NewUploadsHandler(service.NewUploadService(objects, logger))
		slog.Info("uploads enabled", "object_store", cfg.ObjectStore)
	} else {
		slog.Info("uploads disabled (OBJECT_STORE empty)")
	}

	if cfg.JobsEnabled() {
		enqueuer, err := app.setupJobs(ctx, embeddings, m.Jobs, logger)
		if err != nil {
			return nil, err
		}

		r.jobs = handlers.NewJobsHandler(enqueuer)
	} else {
		slog.Info("background embedding jobs disabled (DATABASE_URL unset)")
	}

	backend := session.NewServiceBackend(embeddings)
	settings := session.Settings{
		PageSize:  cfg.SessionPageSize,
		Increment: cfg.SessionIncrement,
		Metric:    models.Metric(cfg.DefaultMetric),
	}

	app.sessions = session.NewRegistry(session.RegistryParams{
		MaxSessions: cfg.SessionMax,
		TTL:         cfg.SessionTTL,
		Metrics:     m.Sessions,
		NewController: func(id string) *session.Controller {
			return session.NewController(session.ControllerParams{
				ID:       id,
				Backend:  backend,
				Settings: settings,
				Debounce: cfg.SessionDebounce,
				Metrics:  m.Sessions,
				Logger:   logger,
			})
		},
	})

	prober, err := gallery.NewProber(gallery.ProberOptions{
		CacheSize: cfg.ProbeCacheSize,
		Timeout:   cfg.ProbeTimeout,
		Metrics:   m.Cache,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create media prober: %w", err)
	}

	r.sessions = handlers.NewSessionsHandler(app.sessions, prober)

	app.server = newHTTPServer(cfg, r, m.API, app.meterProvider, app.tracerProvider)

	return app, nil
}

// setupJobs connects the job queue database, migrates River and creates its client.
func (a *App) setupJobs(ctx context.Context, creator jobs.EmbeddingCreator, metrics observability.JobMetrics, logger *slog.Logger) (*service.EmbeddingJobs, error) {
	pool, err := database.NewPostgresPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect job database: %w", err)
	}

	a.db = pool

	if err := jobs.Migrate(ctx, pool, logger); err != nil {
		return nil, err
	}

	a.river, err = jobs.NewClient(jobs.ClientParams{
		Pool:        pool,
		Creator:     creator,
		Concurrency: a.cfg.EmbeddingMaxConcurrent,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("background embedding jobs enabled",
		"queue", service.EmbeddingsQueueName,
		"workers", a.cfg.EmbeddingMaxConcurrent,
		"max_attempts", a.cfg.EmbeddingMaxAttempts,
	)

	return service.NewEmbeddingJobs(a.river, a.cfg.EmbeddingMaxAttempts, metrics, logger), nil
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health and /metrics, API key on /v1/).
// Handler chain: RequestID -> otelhttp(Logging(Metrics(mux))) so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	r routes,
	apiMetrics observability.APIMetrics,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", r.health.Check)

	if r.metrics != nil {
		public.Handle("GET /metrics", r.metrics)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/embeddings", r.embeddings.Create)
	protected.HandleFunc("POST /v1/embeddings/search", r.embeddings.Search)
	protected.HandleFunc("GET /v1/embeddings/random", r.embeddings.Random)
	protected.HandleFunc("GET /v1/embeddings", r.embeddings.List)
	protected.HandleFunc("GET /v1/embeddings/{id}", r.embeddings.Get)
	protected.HandleFunc("GET /v1/embeddings/{id}/similar", r.embeddings.Similar)
	protected.HandleFunc("DELETE /v1/embeddings/{id}", r.embeddings.Delete)

	// Jobs need Postgres. The route is always mounted so it is not taken for GET /v1/embeddings/{id}.
	jobsHandler := r.jobs
	if jobsHandler == nil {
		jobsHandler = handlers.NewJobsHandler(nil)
	}

	protected.HandleFunc("POST /v1/embeddings/jobs", jobsHandler.Enqueue)

	// Uploads need an object store.

	if r.uploads != nil {
		protected.HandleFunc("POST /v1/uploads/video", r.uploads.Video)
		protected.HandleFunc("POST /v1/uploads/image", r.uploads.Image)
	}

	protected.HandleFunc("POST /v1/sessions", r.sessions.Create)
	protected.HandleFunc("GET /v1/sessions/{id}", r.sessions.View)
	protected.HandleFunc("DELETE /v1/sessions/{id}", r.sessions.Delete)
	protected.HandleFunc("PUT /v1/sessions/{id}/query", r.sessions.Query)
	protected.HandleFunc("POST /v1/sessions/{id}/more", r.sessions.More)
	protected.HandleFunc("GET /v1/sessions/{id}/layout", r.sessions.Layout)
	protected.HandleFunc("PUT /v1/sessions/{id}/preview", r.sessions.Preview)
	protected.HandleFunc("DELETE /v1/sessions/{id}/preview/{itemId}", r.sessions.EndPreview)

	var protectedHandler http.Handler = protected
	protectedHandler = middleware.MaxBody(cfg.MaxRequestBodyBytes(), apiMetrics)(protectedHandler)
	protectedHandler = middleware.Auth(cfg.APIKey)(protectedHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedHandler)
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks and scrapes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	// Logging runs inside otelhttp so r.Context() has the span when we log (trace_id/span_id in access logs).
	inner := middleware.Logging(middleware.Metrics(apiMetrics)(mux))
	handler := otelhttp.NewHandler(inner, "gallery-api", otelOpts...)
	handler = middleware.RequestID(handler)

	// Video uploads and video embeddings are slow, so writes get far more time than reads.
	const (
		readTimeout  = 60 * time.Second
		writeTimeout = 10 * time.Minute
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Run starts the HTTP server and River, then blocks until ctx is cancelled (e.g. signal)
// or a component fails. When ctx is cancelled or a component fails, it cancels the internal
// River context so River and the queue depth poller stop before Run returns. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.river != nil {
		if a.metrics != nil && a.metrics.Jobs != nil {
			go jobs.RunQueueDepthPoller(riverCtx, a.db, a.metrics.Jobs, jobs.DefaultQueueDepthInterval)
		}

		go func() {
			if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port, "store", a.cfg.StoreBackend, "provider", a.cfg.EmbeddingProvider)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelRiver()

		return err
	case <-ctx.Done():
		cancelRiver()

		return nil
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if tracer != nil {
		if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
			first = err
		}
	}

	if meter != nil {
		if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
			if first == nil {
				first = err
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// release closes sessions, the store, the job database and observability. It tolerates a
// partially built App.
func (a *App) release(ctx context.Context) error {
	if a.sessions != nil {
		a.sessions.Close()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("close store", "error", err)
		}
	}

	if a.db != nil {
		a.db.Close()
	}

	return shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
}

// Shutdown stops the server, River, sessions and the store in order. Call after Run returns.
// Observability is shut down last; its error is returned only when server and River shut down successfully.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		relErr := a.release(ctx)
		if err == nil {
			err = relErr
		} else if relErr != nil {
			slog.Error("shutdown observability", "error", relErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if a.river != nil {
			if stopErr := a.river.Stop(ctx); stopErr != nil {
				slog.Error("river stop during server shutdown", "error", stopErr)
			}
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	if a.river != nil {
		if err = a.river.Stop(ctx); err != nil {
			return fmt.Errorf("river stop: %w", err)
		}
	}

	return nil
}
