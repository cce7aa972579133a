package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/multierr"

	"github.com/garyjia/prior-auth/internal/application/workflow"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/erp"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/lark"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/ocr"
	"github.com/garyjia/prior-auth/internal/infrastructure/external/openai"
	httpapi "github.com/garyjia/prior-auth/internal/interfaces/http"
	"github.com/garyjia/prior-auth/pkg/database"
	"github.com/garyjia/prior-auth/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server    httpapi.ServerConfig `mapstructure:"server"`
	Database  database.Config      `mapstructure:"database"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Rules     RulesConfig          `mapstructure:"rules"`
	Workflow  WorkflowConfig       `mapstructure:"workflow"`
	Reviewers map[string][]string  `mapstructure:"reviewers"`
	ERP       erp.Config           `mapstructure:"erp"`
	Lark      lark.Config          `mapstructure:"lark"`
	OpenAI    openai.Config        `mapstructure:"openai"`
	OCR       ocr.Config           `mapstructure:"ocr"`
	Reconcile ReconcileConfig      `mapstructure:"reconcile"`
	Report    ReportConfig         `mapstructure:"report"`
	Logger    utils.LoggerConfig   `mapstructure:"logger"`
}

// StorageConfig holds uploaded document storage configuration
type StorageConfig struct {
	DocumentDir string `mapstructure:"document_dir"`
}

// RulesConfig holds rules engine configuration
type RulesConfig struct {
	Path                  string  `mapstructure:"path"`
	AutoApprovalThreshold float64 `mapstructure:"auto_approval_threshold"`
}

// WorkflowConfig holds orchestrator configuration. Map keys are lowercased by viper, so
// step timeouts are keyed by lowercase state name and escalation deadlines by urgency.
type WorkflowConfig struct {
	StepTimeouts         map[string]time.Duration `mapstructure:"step_timeouts"`
	EscalationDeadlines  map[string]time.Duration `mapstructure:"escalation_deadlines"`
	AppealWindow         time.Duration            `mapstructure:"appeal_window"`
	RequestTTL           time.Duration            `mapstructure:"request_ttl"`
	MaxActiveWorkflows   int                      `mapstructure:"max_active_workflows"`
	MaxDocumentWorkers   int                      `mapstructure:"max_document_workers"`
	MaxEscalationLevel   int                      `mapstructure:"max_escalation_level"`
	AutoProcessDocuments bool                     `mapstructure:"auto_process_documents"`
	EligibilityTimeout   time.Duration            `mapstructure:"eligibility_timeout"`
}

// ReconcileConfig holds the periodic reconciliation schedule
type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ReportConfig holds metrics report configuration
type ReportConfig struct {
	Limit int `mapstructure:"limit"`
}

// Load loads configuration from file, an optional .env file and environment variables.
// A missing env file is ignored.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 32<<20)

	// Database defaults
	v.SetDefault("database.path", "data/prior_auth.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	v.SetDefault("storage.document_dir", "data/documents")

	v.SetDefault("rules.path", "configs/rules.yaml")
	v.SetDefault("rules.auto_approval_threshold", 500.0)

	// Workflow defaults; step timeouts and escalation deadlines fall back to the orchestrator's own
	v.SetDefault("workflow.appeal_window", 30*24*time.Hour)
	v.SetDefault("workflow.request_ttl", 90*24*time.Hour)
	v.SetDefault("workflow.max_active_workflows", 10000)
	v.SetDefault("workflow.max_document_workers", 4)
	v.SetDefault("workflow.max_escalation_level", 2)
	v.SetDefault("workflow.auto_process_documents", true)
	v.SetDefault("workflow.eligibility_timeout", 10*time.Second)

	v.SetDefault("erp.timeout", 10*time.Second)
	v.SetDefault("erp.max_retries", 3)

	v.SetDefault("lark.max_retries", 3)
	v.SetDefault("lark.retry_backoff", "500ms")

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_text_chars", 12000)

	v.SetDefault("ocr.max_pages", 20)

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "*/15 * * * *")
	v.SetDefault("reconcile.timeout", 5*time.Minute)

	v.SetDefault("report.limit", 500)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds credentials to their conventional environment variable names
func bindEnvVars(v *viper.Viper) error {
	return multierr.Combine(
		v.BindEnv("lark.app_id", "LARK_APP_ID"),
		v.BindEnv("lark.app_secret", "LARK_APP_SECRET"),
		v.BindEnv("openai.api_key", "OPENAI_API_KEY"),
		v.BindEnv("erp.base_url", "ERP_BASE_URL"),
		v.BindEnv("erp.api_token", "ERP_API_TOKEN"),
		v.BindEnv("database.path", "DATABASE_PATH"),
	)
}

// Validate validates the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = multierr.Append(errs, errors.New("database.path is required"))
	}
	if c.Storage.DocumentDir == "" {
		errs = multierr.Append(errs, errors.New("storage.document_dir is required"))
	}
	if c.Lark.AppID != "" && c.Lark.AppSecret == "" {
		errs = multierr.Append(errs, errors.New("lark.app_secret is required when lark.app_id is set"))
	}
	if c.Reconcile.Enabled {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile.schedule: %w", err))
		}
	}
	for key := range c.Workflow.StepTimeouts {
		if !domainwf.State(strings.ToUpper(key)).IsValid() {
			errs = multierr.Append(errs, fmt.Errorf("workflow.step_timeouts: unknown state %q", key))
		}
	}
	for key := range c.Workflow.EscalationDeadlines {
		if !entity.Urgency(strings.ToLower(key)).IsValid() {
			errs = multierr.Append(errs, fmt.Errorf("workflow.escalation_deadlines: unknown urgency %q", key))
		}
	}

	return errs
}

// OrchestratorConfig converts the workflow section to orchestrator settings
func (w WorkflowConfig) OrchestratorConfig() workflow.Config {
	cfg := workflow.Config{
		AppealWindow:         w.AppealWindow,
		RequestTTL:           w.RequestTTL,
		MaxActiveWorkflows:   w.MaxActiveWorkflows,
		MaxDocumentWorkers:   w.MaxDocumentWorkers,
		MaxEscalationLevel:   w.MaxEscalationLevel,
		AutoProcessDocuments: w.AutoProcessDocuments,
	}
	if len(w.StepTimeouts) > 0 {
		cfg.StepTimeouts = make(map[domainwf.State]time.Duration, len(w.StepTimeouts))
		for key, d := range w.StepTimeouts {
			cfg.StepTimeouts[domainwf.State(strings.ToUpper(key))] = d
		}
	}
	if len(w.EscalationDeadlines) > 0 {
		cfg.EscalationDeadlines = make(map[entity.Urgency]time.Duration, len(w.EscalationDeadlines))
		for key, d := range w.EscalationDeadlines {
			cfg.EscalationDeadlines[entity.Urgency(strings.ToLower(key))] = d
		}
	}
	return cfg
}
