// Package app assembles the registry's services, workers and HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/config"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/fielddata"
	"carbon-scribe/mrv-registry/internal/ledger"
	"carbon-scribe/mrv-registry/internal/metrics"
	"carbon-scribe/mrv-registry/internal/notifications/websocket"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/reports"
	"carbon-scribe/mrv-registry/internal/scheduler"
	"carbon-scribe/mrv-registry/internal/scoring"
	"carbon-scribe/mrv-registry/pkg/storage"
)

// App owns every long-lived component of the registry process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Repos        *Repositories
	Anchorer     *ledger.Anchorer
	Hub          *websocket.Manager
	Metrics      *metrics.Metrics
	Scheduler    *scheduler.Manager
	Projects     *projects.Service
	FieldData    *fielddata.Service
	Credits      *credits.Service
	Attestations *attestation.Service
	Reports      *reports.Service

	registry *prometheus.Registry
	tokens   *auth.TokenParser
	started  time.Time
}

// New connects to the configured store, ledger and archive and wires the
// services. Missing ledger credentials leave anchoring unconfigured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	repos, err := OpenRepositories(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	anchorer, err := NewAnchorer(ctx, cfg.Ledger, logger)
	if err != nil {
		_ = repos.Close(ctx)
		return nil, err
	}

	blobs, err := NewObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		_ = repos.Close(ctx)
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	projectSvc := projects.NewService(repos.Projects, logger)
	hub := websocket.NewManager(projectSvc, logger)
	fieldSvc := fielddata.NewService(repos.FieldData, projectSvc, scoring.StaticOracle{}, blobs, logger)
	attestationSvc := attestation.NewService(attestation.Dependencies{
		Repo:       repos.Attestations,
		Projects:   projectSvc,
		Anchorer:   anchorer,
		Dispatcher: attestation.NewDispatcher(cfg.Anchor.Workers, cfg.Anchor.QueueSize, logger, m),
		Store:      blobs,
		Notifier:   hub,
		Metrics:    m,
		Logger:     logger,
	})
	creditSvc := credits.NewService(repos.Credits, projectSvc, attestationSvc, m, logger)

	a := &App{
		cfg:          cfg,
		logger:       logger,
		Repos:        repos,
		Anchorer:     anchorer,
		Hub:          hub,
		Metrics:      m,
		Projects:     projectSvc,
		FieldData:    fieldSvc,
		Credits:      creditSvc,
		Attestations: attestationSvc,
		Reports:      reports.NewService(creditSvc, projectSvc, logger),
		registry:     registry,
		tokens:       auth.NewTokenParser(cfg.Security.JWTSecret),
		started:      time.Now(),
	}
	staleAfter := cfg.Monitoring.StaleAfter
	if staleAfter <= 0 {
		staleAfter = config.StaleAfter(cfg.Ledger.WithDefaults().ConfirmationTimeout, cfg.Anchor.Workers, cfg.Anchor.QueueSize)
	}
	a.Scheduler = scheduler.NewManager(anchorer, attestationSvc, m, scheduler.Config{
		LedgerProbeCron: cfg.Monitoring.LedgerProbeCron,
		StaleScanCron:   cfg.Monitoring.StaleScanCron,
		StaleAfter:      staleAfter,
	}, logger)
	return a, nil
}

// NewAnchorer dials the ledger when an RPC endpoint is configured.
func NewAnchorer(ctx context.Context, cfg ledger.Config, logger *zap.Logger) (*ledger.Anchorer, error) {
	var client ledger.Client
	if cfg.RPCURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ec, err := ledger.Dial(dialCtx, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		client = ec
	}
	anchorer, err := ledger.NewAnchorer(client, cfg, logger)
	if err != nil {
		return nil, err
	}
	if anchorer.Configured() {
		logger.Info("Ledger anchoring configured",
			zap.String("address", anchorer.Address()),
			zap.Bool("registry_contract", cfg.RegistryAddress != ""))
	} else {
		logger.Warn("Ledger anchoring not configured, attestations will be recorded as ledger_unavailable")
	}
	return anchorer, nil
}

// NewObjectStore archives to S3 when a bucket is configured and to memory
// otherwise.
func NewObjectStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.ObjectStore, error) {
	if cfg.S3.Bucket == "" {
		logger.Warn("No evidence bucket configured, archiving to memory")
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewS3Store(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	logger.Info("Archiving evidence to S3", zap.String("bucket", cfg.S3.Bucket))
	return store, nil
}

// Start launches the anchoring workers and the scheduler.
func (a *App) Start(ctx context.Context) error {
	a.Attestations.Start(ctx)
	return a.Scheduler.Start()
}

// Shutdown stops the scheduler, drains the anchoring queue and closes
// connections. Jobs still running when ctx expires are cancelled.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	err := a.Attestations.Shutdown(ctx)
	if err != nil {
		a.logger.Warn("Anchor queue not drained before shutdown deadline", zap.Error(err))
	}
	a.Hub.Close()
	return errors.Join(err, a.Repos.Close(context.WithoutCancel(ctx)))
}

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(a.logger), CORS())

	router.GET("/health", a.health)
	router.GET(a.cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	router.GET("/ws", a.tokens.Middleware(), a.serveWebsocket)

	api := router.Group("/api/v1", a.tokens.Middleware())
	{
		auth.NewHandler().RegisterRoutes(api)
		projects.NewHandler(a.Projects, a.logger).RegisterRoutes(api)
		fielddata.NewHandler(a.FieldData, a.logger).RegisterRoutes(api)
		credits.NewHandler(a.Credits, a.logger).RegisterRoutes(api)
		attestation.NewHandler(a.Attestations, a.logger).RegisterRoutes(api)
		reports.NewHandler(a.Reports, a.logger).RegisterRoutes(api)
	}
	return router
}

func (a *App) health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	checks := gin.H{}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := a.Repos.Ping(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}
	checks["ledger_configured"] = a.Anchorer.Configured()
	checks["websocket_connections"] = a.Hub.GetConnectionCount()

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(a.started).Round(time.Second).String(),
		"checks":    checks,
	})
}

func (a *App) serveWebsocket(c *gin.Context) {
	if err := a.Hub.HandleConnection(c.Writer, c.Request, auth.ActorFrom(c)); err != nil {
		a.logger.Warn("Websocket upgrade failed", zap.Error(err))
	}
}
