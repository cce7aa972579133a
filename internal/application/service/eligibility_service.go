package service

import (
	"context"
	"time"

	"github.com/garyjia/prior-auth/internal/application/port"
	"github.com/garyjia/prior-auth/internal/domain/entity"
)

// EligibilityService answers eligibility and coverage questions from the ERP.
// Eligibility fails closed: any error means not eligible. Coverage fails open:
// an error reports zero coverage and never blocks the decision.
type EligibilityService struct {
	erp     port.ERPClient
	timeout time.Duration
	logger  Logger
}

// NewEligibilityService creates an EligibilityService. A zero timeout leaves the
// caller's deadline in charge.
func NewEligibilityService(erp port.ERPClient, timeout time.Duration, logger Logger) *EligibilityService {
	return &EligibilityService{
		erp:     erp,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *EligibilityService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// IsEligible reports whether the ERP confirms the patient for the procedure
func (s *EligibilityService) IsEligible(ctx context.Context, req *entity.AuthorizationRequest) bool {
	if s.erp == nil || req == nil {
		return false
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.erp.CheckEligibility(ctx, req.PatientID, req.ProcedureCode)
	if err != nil {
		s.logger.Warnw("Eligibility check failed, treating as not eligible",
			"error", err,
			"authorization_id", req.ID,
			"patient_id", req.PatientID)
		return false
	}
	if result == nil {
		return false
	}
	if !result.Eligible {
		s.logger.Infow("Patient not eligible",
			"authorization_id", req.ID,
			"patient_id", req.PatientID,
			"reason", result.Reason)
	}
	return result.Eligible
}

// CoverageAmount reports the amount the plan covers for the procedure
func (s *EligibilityService) CoverageAmount(ctx context.Context, req *entity.AuthorizationRequest) float64 {
	if s.erp == nil || req == nil {
		return 0
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.erp.CoverageVerification(ctx, req.PatientID, req.ProcedureCode, req.EstimatedCost)
	if err != nil {
		s.logger.Warnw("Coverage verification failed, reporting no coverage",
			"error", err,
			"authorization_id", req.ID,
			"procedure_code", req.ProcedureCode)
		return 0
	}
	if result == nil || !result.Covered {
		return 0
	}
	return result.CoverageAmount
}
