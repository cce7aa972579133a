// Package erp talks to the hospital ERP over its JSON HTTP API.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
	"github.com/garyjia/prior-auth/internal/domain/workflow"
)

// Config holds ERP client settings
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIToken   string        `mapstructure:"api_token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// StatusError is a non-2xx answer from the ERP
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("erp returned status %d: %s", e.StatusCode, e.Body)
}

// Client implements port.ERPClient
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries uint64
	logger     *zap.Logger
}

// NewClient creates a new ERP client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid erp base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

type eligibilityRequest struct {
	PatientID     string `json:"patient_id"`
	ProcedureCode string `json:"procedure_code"`
}

type eligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	PlanID   string `json:"plan_id"`
	Reason   string `json:"reason"`
}

// CheckEligibility asks whether the patient's plan covers the procedure at all
func (c *Client) CheckEligibility(ctx context.Context, patientID, procedureCode string) (*port.EligibilityResult, error) {
	var resp eligibilityResponse
	err := c.do(ctx, http.MethodPost, "/api/eligibility", eligibilityRequest{
		PatientID:     patientID,
		ProcedureCode: procedureCode,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("check eligibility: %w", err)
	}
	return &port.EligibilityResult{Eligible: resp.Eligible, PlanID: resp.PlanID, Reason: resp.Reason}, nil
}

type coverageRequest struct {
	PatientID     string  `json:"patient_id"`
	ProcedureCode string  `json:"procedure_code"`
	EstimatedCost float64 `json:"estimated_cost"`
}

type coverageResponse struct {
	Covered        bool    `json:"covered"`
	CoverageAmount float64 `json:"coverage_amount"`
	CoPayment      float64 `json:"co_payment"`
}

// CoverageVerification asks how much of the estimated cost the plan pays
func (c *Client) CoverageVerification(ctx context.Context, patientID, procedureCode string, estimatedCost float64) (*port.CoverageResult, error) {
	var resp coverageResponse
	err := c.do(ctx, http.MethodPost, "/api/coverage", coverageRequest{
		PatientID:     patientID,
		ProcedureCode: procedureCode,
		EstimatedCost: estimatedCost,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("verify coverage: %w", err)
	}
	return &port.CoverageResult{Covered: resp.Covered, CoverageAmount: resp.CoverageAmount, CoPayment: resp.CoPayment}, nil
}

type submissionRequest struct {
	ID            string  `json:"id"`
	PatientID     string  `json:"patient_id"`
	ProviderID    string  `json:"provider_id"`
	ProcedureID   string  `json:"procedure_id"`
	ProcedureCode string  `json:"procedure_code"`
	Urgency       string  `json:"urgency"`
	EstimatedCost float64 `json:"estimated_cost"`
	Status        string  `json:"status"`
}

// SubmitAuthorization registers a new authorization with the ERP
func (c *Client) SubmitAuthorization(ctx context.Context, req *entity.AuthorizationRequest) error {
	err := c.do(ctx, http.MethodPost, "/api/authorizations", submissionRequest{
		ID:            req.ID,
		PatientID:     req.PatientID,
		ProviderID:    req.ProviderID,
		ProcedureID:   req.ProcedureID,
		ProcedureCode: req.ProcedureCode,
		Urgency:       string(req.Urgency),
		EstimatedCost: req.EstimatedCost,
		Status:        string(req.State),
	}, nil)
	if err != nil {
		return fmt.Errorf("submit authorization: %w", err)
	}
	return nil
}

// SyncAuthorizationStatus pushes the current workflow state to the ERP
func (c *Client) SyncAuthorizationStatus(ctx context.Context, authorizationID string, state workflow.State) error {
	path := "/api/authorizations/" + url.PathEscape(authorizationID) + "/status"
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"status": string(state)}, nil); err != nil {
		return fmt.Errorf("sync authorization status: %w", err)
	}
	return nil
}

// do sends a JSON request and decodes the JSON answer into out. Transport
// errors and 5xx answers are retried; 4xx answers are returned at once.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx),
		func(err error, wait time.Duration) {
			c.logger.Warn("ERP request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("backoff", wait),
				zap.Error(err))
		})
	if err != nil {
		c.logger.Error("ERP request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	return nil
}

var _ port.ERPClient = (*Client)(nil)
