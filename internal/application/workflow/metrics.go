package workflow

import (
	"sync"
	"time"

	"github.com/garyjia/prior-auth/internal/application/rules"
	domainwf "github.com/garyjia/prior-auth/internal/domain/workflow"
)

// PerformanceMetrics are counters over started and completed workflows.
// Rates are fractions of completed workflows.
type PerformanceMetrics struct {
	StartedRequests       int64            `json:"started_requests"`
	TotalRequests         int64            `json:"total_requests"`
	ActiveWorkflows       int              `json:"active_workflows"`
	AutoApproved          int64            `json:"auto_approved"`
	Approved              int64            `json:"approved"`
	Rejected              int64            `json:"rejected"`
	Expired               int64            `json:"expired"`
	Canceled              int64            `json:"canceled"`
	ApprovalRate          float64          `json:"approval_rate"`
	RejectionRate         float64          `json:"rejection_rate"`
	ExpirationRate        float64          `json:"expiration_rate"`
	CancellationRate      float64          `json:"cancellation_rate"`
	AverageProcessingTime time.Duration    `json:"average_processing_time"`
	CacheStats            rules.CacheStats `json:"cache_stats"`
}

// metricsRecorder keeps the running counters behind PerformanceMetrics
type metricsRecorder struct {
	mu             sync.Mutex
	startedCount   int64
	autoApproved   int64
	completedCount int64
	outcomes       map[domainwf.State]int64
	average        time.Duration
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{outcomes: make(map[domainwf.State]int64)}
}

func (m *metricsRecorder) started() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startedCount++
}

func (m *metricsRecorder) recordAutoApproval() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoApproved++
}

// completed folds one finished workflow into the counters and the running average
func (m *metricsRecorder) completed(final domainwf.State, createdAt, completedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := completedAt.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	m.completedCount++
	m.outcomes[final]++
	m.average += (elapsed - m.average) / time.Duration(m.completedCount)
}

func (m *metricsRecorder) snapshot() PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := PerformanceMetrics{
		StartedRequests:       m.startedCount,
		TotalRequests:         m.completedCount,
		AutoApproved:          m.autoApproved,
		Approved:              m.outcomes[domainwf.StateApproved],
		Rejected:              m.outcomes[domainwf.StateRejected],
		Expired:               m.outcomes[domainwf.StateExpired],
		Canceled:              m.outcomes[domainwf.StateCanceled],
		AverageProcessingTime: m.average,
	}
	if m.completedCount > 0 {
		total := float64(m.completedCount)
		result.ApprovalRate = float64(result.Approved) / total
		result.RejectionRate = float64(result.Rejected) / total
		result.ExpirationRate = float64(result.Expired) / total
		result.CancellationRate = float64(result.Canceled) / total
	}
	return result
}
