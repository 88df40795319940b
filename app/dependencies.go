package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/model-control-plane/config"
	"github.com/upb/model-control-plane/handlers"
	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/middleware"
	"github.com/upb/model-control-plane/repositories"
	"github.com/upb/model-control-plane/repositories/sqlstore"
	"github.com/upb/model-control-plane/services/audit"
	"github.com/upb/model-control-plane/services/auth"
	"github.com/upb/model-control-plane/services/datastore"
	"github.com/upb/model-control-plane/services/inference"
	"github.com/upb/model-control-plane/services/modelsource"
	"github.com/upb/model-control-plane/services/registry"
	"github.com/upb/model-control-plane/services/system"
	"github.com/upb/model-control-plane/services/users"
	"github.com/upb/model-control-plane/services/variables"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	DB         *sqlstore.DB
	Logger     *zap.Logger
	Metrics    observability.Metrics
	Prometheus *observability.PrometheusMetrics

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	AuditLogs repositories.AuditRepository
	TxManager repositories.TransactionManager

	// Services
	UserService   *users.Service
	Authenticator *auth.Authenticator
	ModelSource   modelsource.Source
	Registry      *registry.Registry
	Scheduler     *registry.Scheduler
	Inference     *inference.Service
	Audit         *audit.Service
	DataStore     *datastore.Store
	Variables     *variables.Store
	System        *system.Service

	// Middleware
	AuthMiddleware *middleware.AuthMiddleware
	Gate           *middleware.Gate
	RateLimiter    *middleware.RateLimiter

	// Handlers
	AuthHandler     *handlers.AuthHandler
	ModelHandler    *handlers.ModelHandler
	UserHandler     *handlers.UserHandler
	DataHandler     *handlers.DataHandler
	VariableHandler *handlers.VariableHandler
	SystemHandler   *handlers.SystemHandler
	AuditHandler    *handlers.AuditHandler
	HealthHandler   *handlers.HealthHandler

	systemOpts []system.Option
	started    bool
}

// Option overrides a dependency before wiring
type Option func(*Dependencies)

// WithModelSource replaces the MLflow/Hub router, used by tests
func WithModelSource(src modelsource.Source) Option {
	return func(d *Dependencies) {
		d.ModelSource = src
	}
}

// WithSystemOptions passes options to the system service
func WithSystemOptions(opts ...system.Option) Option {
	return func(d *Dependencies) {
		d.systemOpts = append(d.systemOpts, opts...)
	}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(deps)
	}

	deps.initMetrics(cfg)

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(cfg); err != nil {
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initMiddleware(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	d.Prometheus = observability.NewPrometheusMetrics()
	d.Metrics = d.Prometheus
}

// initDatabase opens the credential database and creates its schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := sqlstore.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	hasher := users.NewBcryptHasher(cfg.Auth.BcryptCost)
	d.UserService = users.NewService(d.Users, d.TxManager, hasher, d.Logger)

	tokens, err := auth.NewTokenIssuer(cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	d.Authenticator = auth.NewAuthenticator(d.UserService, hasher, tokens, auth.SystemPrincipal{
		Username: cfg.Auth.SystemUsername,
		Key:      cfg.Auth.SystemKey,
	}, d.Logger)

	if d.ModelSource == nil {
		d.ModelSource = newModelSource(cfg.ModelSource, d.Logger)
	}

	cache, err := registry.NewCache(cfg.Registry.CacheFile())
	if err != nil {
		return err
	}
	d.Registry = registry.New(d.ModelSource, cache, d.Metrics, d.Logger)
	d.Scheduler = registry.NewScheduler(d.Registry, registry.SchedulerConfig{
		Workers:   cfg.Registry.LoadWorkers,
		QueueSize: cfg.Registry.LoadQueueSize,
		Timeout:   cfg.Registry.LoadTimeout,
	}, d.Logger)
	d.Inference = inference.NewService(d.Registry, d.Metrics, d.Logger)

	d.Audit = audit.NewService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	d.Scheduler.OnComplete(d.Audit.LoadCompleted)

	d.DataStore, err = datastore.NewStore(cfg.Storage.DataDirectory, cfg.Storage.DataGroup, d.Logger)
	if err != nil {
		return err
	}
	d.Variables, err = variables.Open(cfg.Storage.VariableStoreDirectory, d.Logger)
	if err != nil {
		return err
	}
	d.System = system.NewService(cfg.Storage.DataDirectory, d.Logger, d.systemOpts...)

	d.Logger.Info("services initialized")
	return nil
}

func newModelSource(cfg config.ModelSourceConfig, logger *zap.Logger) modelsource.Source {
	mlflow := modelsource.NewMLflow(modelsource.MLflowConfig{
		TrackingURI:        cfg.TrackingURI,
		Token:              cfg.TrackingToken,
		ServingURLTemplate: cfg.ServingURLTemplate,
		Timeout:            cfg.HTTPTimeout,
	}, logger)
	hub := modelsource.NewHub(modelsource.HubConfig{
		Endpoint:          cfg.HubEndpoint,
		InferenceEndpoint: cfg.HubInferenceEndpoint,
		Token:             cfg.HubToken,
		Timeout:           cfg.HTTPTimeout,
	}, logger)
	return modelsource.NewDefaultRouter(mlflow, hub)
}

func (d *Dependencies) initMiddleware(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Authenticator, d.Metrics, d.Logger)
	d.Gate = middleware.NewGate(middleware.DefaultPolicy(), d.Logger)
	d.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, d.Metrics, d.Logger)
}

func (d *Dependencies) initHandlers() {
	d.AuthHandler = handlers.NewAuthHandler(d.Authenticator, d.Audit, d.Logger)
	d.ModelHandler = handlers.NewModelHandler(d.Registry, d.Scheduler, d.Inference, d.Audit, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.UserService, d.Audit, d.Logger)
	d.DataHandler = handlers.NewDataHandler(d.DataStore, d.Audit, d.Logger)
	d.VariableHandler = handlers.NewVariableHandler(d.Variables, d.Audit, d.Logger)
	d.SystemHandler = handlers.NewSystemHandler(d.System, d.Audit, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Audit, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Registry, d.Logger).WithPools(d.Scheduler, d.Audit)
}

// Start creates the bootstrap admin, starts the background workers and
// replays the model cache. Rehydration failures are logged, never returned.
func (d *Dependencies) Start(ctx context.Context) error {
	admin := d.Config.Auth
	created, err := d.UserService.EnsureBootstrapAdmin(ctx, admin.AdminUsername, admin.AdminPassword, admin.AdminAPIKey)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	if created {
		d.Logger.Info("bootstrap admin created", zap.String("username", admin.AdminUsername))
	}

	if err := d.Audit.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	if err := d.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start load scheduler: %w", err)
	}
	d.started = true

	reg := d.Config.Registry
	rctx, cancel := context.WithTimeout(ctx, reg.RehydrateTimeout)
	defer cancel()
	loaded := d.Registry.Rehydrate(rctx, reg.RehydrateConcurrency)
	d.Logger.Info("model cache rehydrated",
		zap.Int("loaded", loaded),
		zap.String("cache", reg.CacheFile()))

	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error
	timeout := d.Config.Server.ShutdownTimeout

	if d.started {
		if err := d.Scheduler.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop load scheduler: %w", err))
		}
		// Stopped after the scheduler so completion entries are still written.
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.started = false
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
