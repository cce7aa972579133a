package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/prior-auth/internal/application/rules"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/rule"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9090
workflow:
  step_timeouts:
    medical_review: 36h
  escalation_deadlines:
    Emergency: 30m
reviewers:
  medical: [dr-a, dr-b]
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "data/prior_auth.db", cfg.Database.Path)
	assert.Equal(t, "*/15 * * * *", cfg.Reconcile.Schedule)
	assert.Equal(t, 500.0, cfg.Rules.AutoApprovalThreshold)
	assert.True(t, cfg.Workflow.AutoProcessDocuments)
	assert.Equal(t, []string{"dr-a", "dr-b"}, cfg.Reviewers["medical"])

	wf := cfg.Workflow.OrchestratorConfig()
	assert.Equal(t, 36*time.Hour, wf.StepTimeouts[domainwf.StateMedicalReview])
	assert.Equal(t, 30*time.Minute, wf.EscalationDeadlines[entity.UrgencyEmergency])
	assert.Equal(t, 30*24*time.Hour, wf.AppealWindow)
	assert.Equal(t, 4, wf.MaxDocumentWorkers)
}

func TestLoad_EnvironmentAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "server:\n  port: 8080\n")
	envFile := writeFile(t, dir, ".env", "OPENAI_API_KEY=sk-from-file\nLARK_APP_ID=cli_a1\nLARK_APP_SECRET=secret\n")

	t.Setenv("DATABASE_PATH", filepath.Join(dir, "env.db"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LARK_APP_ID", "")
	t.Setenv("LARK_APP_SECRET", "")
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))
	require.NoError(t, os.Unsetenv("LARK_APP_ID"))
	require.NoError(t, os.Unsetenv("LARK_APP_SECRET"))

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "env.db"), cfg.Database.Path)
	assert.Equal(t, "sk-from-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "cli_a1", cfg.Lark.AppID)

	_, err = Load(path, filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	assert.Error(t, err)

	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  port: 70000
reconcile:
  schedule: "every tuesday"
workflow:
  step_timeouts:
    lunch_break: 1h
  escalation_deadlines:
    whenever: 1h
lark:
  app_id: cli_a1
`)
	_, err = Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "reconcile.schedule")
	assert.Contains(t, err.Error(), "lunch_break")
	assert.Contains(t, err.Error(), "whenever")
	assert.Contains(t, err.Error(), "lark.app_secret")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
}

func TestLoadRules_ShippedRulesCompile(t *testing.T) {
	loaded, err := LoadRules(filepath.Join("..", "..", "configs", "rules.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, loaded)

	byID := make(map[string]rule.Rule, len(loaded))
	for _, r := range loaded {
		byID[r.ID] = r
	}
	lab, ok := byID["auto-approve-routine-lab"]
	require.True(t, ok)
	assert.Equal(t, rule.TypeAutoApproval, lab.Type)
	assert.Equal(t, []string{"80048", "80053", "85025"}, lab.ProcedureCodes)
	require.NotNil(t, lab.EffectiveFrom)
	assert.True(t, lab.EffectiveFrom.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = rules.NewEngine(loaded, zaptest.NewLogger(t))
	assert.NoError(t, err)
}

func TestLoadRules_RejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", `
rules:
  - id: r1
    type: coverage
    active: true
    priorty: 10
`)
	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priorty")
}

func TestDecodeRules(t *testing.T) {
	loaded, err := DecodeRules([]interface{}{
		map[string]interface{}{
			"id":              "r1",
			"type":            "coverage",
			"priority":        "7",
			"active":          true,
			"effective_to":    "2027-06-30T12:00:00Z",
			"conditions":      []interface{}{map[string]interface{}{"path": "coverage.amount", "operator": ">", "value": 0}},
			"procedure_codes": []interface{}{"70553"},
		},
	})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 7, loaded[0].Priority)
	require.NotNil(t, loaded[0].EffectiveTo)
	assert.Equal(t, 2027, loaded[0].EffectiveTo.Year())
	assert.Equal(t, rule.OpGreater, loaded[0].Conditions[0].Operator)

	_, err = DecodeRules([]interface{}{map[string]interface{}{"id": "r2", "effective_from": "next week"}})
	assert.Error(t, err)

	none, err := DecodeRules(nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
