// Package container provides dependency injection and lifecycle management
// for the prior authorization service following Clean Architecture principles.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/dispatcher"
	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/application/service"
	"github.com/garyjia/prior-auth/internal/application/workflow"
	"github.com/garyjia/prior-auth/internal/config"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/erp"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/lark"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/ocr"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/openai"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/repository"
	"github.com/garyjia/prior-auth/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/prior-auth/internal/infrastructure/storage"
	"github.com/garyjia/prior-auth/internal/infrastructure/worker"
	"github.com/garyjia/prior-auth/migrations"
	"github.com/garyjia/prior-auth/pkg/database"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Authorization *repository.AuthorizationRepository
	Deadline      *repository.DeadlineRepository
	Audit         *repository.AuditRepository
	Notification  *repository.NotificationRepository
}

// ExternalBundle holds the clients of external systems. Any of them may be nil when
// the matching section is not configured.
type ExternalBundle struct {
	ERP       port.ERPClient
	Notifier  port.Notifier
	Extractor port.TextExtractor
	Validator port.DocumentValidator
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg database.Config, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrationsFS(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Authorization: repository.NewAuthorizationRepository(sqlDB, logger),
		Deadline:      repository.NewDeadlineRepository(sqlDB, logger),
		Audit:         repository.NewAuditRepository(sqlDB, logger),
		Notification:  repository.NewNotificationRepository(sqlDB, logger),
	}
}

// ProvideStorage creates the document store, creating its directory if needed.
func ProvideStorage(cfg config.StorageConfig, logger *zap.Logger) (*storage.LocalFileStorage, error) {
	if err := os.MkdirAll(cfg.DocumentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	return storage.NewLocalFileStorage(cfg.DocumentDir, logger), nil
}

// ProvideExternalClients creates the ERP, Lark, OCR and OpenAI adapters.
// Unconfigured systems are left nil and logged.
func ProvideExternalClients(cfg *config.Config, store port.DocumentStorage, logger *zap.Logger) (*ExternalBundle, error) {
	bundle := &ExternalBundle{
		Extractor: ocr.NewExtractor(store, cfg.OCR, logger),
	}

	if cfg.ERP.BaseURL != "" {
		client, err := erp.NewClient(cfg.ERP, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ERP client: %w", err)
		}
		bundle.ERP = client
	} else {
		logger.Warn("ERP base URL not configured, eligibility checks will fail closed")
	}

	if cfg.Lark.AppID != "" {
		bundle.Notifier = lark.NewMessenger(lark.NewSDKClient(cfg.Lark, logger), cfg.Lark, logger)
	} else {
		logger.Warn("Lark app not configured, notifications are disabled")
	}

	if cfg.OpenAI.APIKey != "" {
		prompts := openai.DefaultPrompts()
		if cfg.OpenAI.PromptsPath != "" {
			loaded, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
			if err != nil {
				return nil, err
			}
			prompts = loaded
		}
		bundle.Validator = openai.NewDocumentValidator(cfg.OpenAI, prompts, store, logger)
	} else {
		logger.Warn("OpenAI API key not configured, document validation is disabled")
	}

	return bundle, nil
}

// ProvideRulesEngine loads the rule file and compiles it.
func ProvideRulesEngine(cfg config.RulesConfig, checker rules.EligibilityChecker, logger *zap.Logger) (rules.Engine, error) {
	loaded, err := config.LoadRules(cfg.Path)
	if err != nil {
		return nil, err
	}

	engine, err := rules.NewEngine(loaded, logger,
		rules.WithEligibilityChecker(checker),
		rules.WithConfig(rules.Config{AutoApprovalThreshold: cfg.AutoApprovalThreshold}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	logger.Info("Rules loaded", zap.Int("count", len(loaded)), zap.String("path", cfg.Path))
	return engine, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(logger))
}

// WorkflowDeps holds dependencies for creating the orchestrator.
type WorkflowDeps struct {
	Config     config.WorkflowConfig
	Engine     rules.Engine
	Dispatcher dispatcher.Dispatcher
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	External   *ExternalBundle
	Checker    rules.EligibilityChecker
	Reviewers  port.ReviewerDirectory
	Logger     *zap.Logger
}

// ProvideOrchestrator creates the workflow orchestrator and rehydrates active requests.
func ProvideOrchestrator(ctx context.Context, deps *WorkflowDeps) (workflow.Orchestrator, error) {
	opts := []workflow.Option{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithRepository(deps.Repos.Authorization),
		workflow.WithDeadlineRepository(deps.Repos.Deadline),
		workflow.WithAuditRecorder(deps.Repos.Audit),
		workflow.WithTransactionManager(deps.TxManager),
		workflow.WithEligibilityChecker(deps.Checker),
		workflow.WithReviewerDirectory(deps.Reviewers),
		workflow.WithLogger(deps.Logger),
		workflow.WithConfig(deps.Config.OrchestratorConfig()),
	}
	if deps.External.Validator != nil {
		opts = append(opts, workflow.WithDocumentServices(deps.External.Extractor, deps.External.Validator))
	}

	orch, err := workflow.NewOrchestrator(deps.Engine, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if err := orch.Recover(ctx); err != nil {
		_ = orch.Close()
		return nil, fmt.Errorf("failed to recover workflows: %w", err)
	}
	return orch, nil
}

// ProvideEventHandlers subscribes the notification, ERP and audit handlers.
func ProvideEventHandlers(d dispatcher.Dispatcher, repos *RepositoryBundle, external *ExternalBundle, logger *zap.Logger) {
	sugar := logger.Sugar()

	var notifications service.NotificationService
	if external.Notifier != nil {
		notifications = service.NewNotificationService(external.Notifier, repos.Notification, nil, sugar)
	}

	service.NewEventHandlers(notifications, external.ERP, repos.Audit, repos.Authorization, sugar).Register(d)
}

// ProvideWorkers creates the worker manager with the reconciliation worker.
func ProvideWorkers(cfg config.ReconcileConfig, reconciler worker.Reconciler, logger *zap.Logger) (*worker.WorkerManager, error) {
	manager := worker.NewWorkerManager(logger)
	if !cfg.Enabled {
		return manager, nil
	}

	reconcile, err := worker.NewReconcileWorker(cfg.Schedule, cfg.Timeout, reconciler, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile worker: %w", err)
	}
	manager.Register(reconcile)
	return manager, nil
}
