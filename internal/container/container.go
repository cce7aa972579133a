package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/dispatcher"
	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/application/service"
	"github.com/garyjia/prior-auth/internal/application/workflow"
	"github.com/garyjia/prior-auth/internal/config"
	"github.com/garyjia/prior-auth/internal/infrastructure/report"
	"github.com/garyjia/prior-auth/internal/infrastructure/storage"
	"github.com/garyjia/prior-auth/internal/infrastructure/worker"
	httpapi "github.com/garyjia/prior-auth/internal/interfaces/http"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *DatabaseBundle
	repositories *RepositoryBundle
	storage      *storage.LocalFileStorage

	// Infrastructure - External
	external *ExternalBundle

	// Application
	dispatcher   dispatcher.Dispatcher
	engine       rules.Engine
	orchestrator workflow.Orchestrator

	// Workers and interfaces
	workers *worker.WorkerManager
	server  *httpapi.Server

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and starts the workers.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Document storage
// 3. External clients (ERP, Lark, OCR, OpenAI)
// 4. Dispatcher, rules engine and event handlers
// 5. Orchestrator, including recovery of active requests
// 6. Workers
// 7. HTTP server (started by the caller)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.init(ctx); err != nil {
		if closeErr := c.teardown(); closeErr != nil {
			c.logger.Error("Failed to release partially initialized components", zap.Error(closeErr))
		}
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) init(ctx context.Context) error {
	// Step 1: Database and repositories
	db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.database = db
	c.repositories = ProvideRepositories(db.DB.DB, c.logger)
	c.logger.Info("Database initialized")

	// Step 2: Storage
	c.storage, err = ProvideStorage(c.config.Storage, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Step 3: External clients
	c.external, err = ProvideExternalClients(c.config, c.storage, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	// Step 4: Dispatcher, rules and event handlers
	eligibility := service.NewEligibilityService(c.external.ERP, c.config.Workflow.EligibilityTimeout, c.logger.Sugar())
	c.dispatcher = ProvideDispatcher(c.logger)
	c.engine, err = ProvideRulesEngine(c.config.Rules, eligibility, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rules engine: %w", err)
	}
	ProvideEventHandlers(c.dispatcher, c.repositories, c.external, c.logger)

	// Step 5: Orchestrator
	c.orchestrator, err = ProvideOrchestrator(ctx, &WorkflowDeps{
		Config:     c.config.Workflow,
		Engine:     c.engine,
		Dispatcher: c.dispatcher,
		Repos:      c.repositories,
		TxManager:  c.database.TransactionMgr,
		External:   c.external,
		Checker:    eligibility,
		Reviewers:  service.NewReviewerPool(c.config.Reviewers),
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.logger.Info("Orchestrator initialized")

	// Step 6: Workers
	c.workers, err = ProvideWorkers(c.config.Reconcile, c.orchestrator, c.logger)
	if err != nil {
		return err
	}
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	// Step 7: HTTP server
	reporter := report.NewMetricsReporter(c.repositories.Authorization, c.config.Report.Limit, c.logger)
	c.server = httpapi.NewServer(c.config.Server, c.orchestrator, c.engine, reporter, c.storage, c.logger.Sugar())

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(multierr.Errors(err))))
		return fmt.Errorf("container closed with errors: %w", err)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var errs error

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	if c.orchestrator != nil {
		if err := c.orchestrator.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close orchestrator: %w", err))
		} else {
			c.logger.Info("Orchestrator closed")
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.database != nil {
		if err := c.database.DB.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Server returns the HTTP server; nil before Start.
func (c *Container) Server() *httpapi.Server {
	return c.server
}

// Orchestrator returns the workflow orchestrator; nil before Start.
func (c *Container) Orchestrator() workflow.Orchestrator {
	return c.orchestrator
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.database == nil:
		set("database", false, "not initialized")
	default:
		if err := c.database.DB.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	if c.orchestrator != nil {
		m := c.orchestrator.GetPerformanceMetrics()
		set("orchestrator", true, fmt.Sprintf("active workflows: %d", m.ActiveWorkflows))
	} else {
		set("orchestrator", false, "not initialized")
	}

	if c.external != nil {
		set("erp", true, configured(c.external.ERP != nil))
		set("notifications", true, configured(c.external.Notifier != nil))
		set("document_validation", true, configured(c.external.Validator != nil))
	}

	return status
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "disabled"
}
