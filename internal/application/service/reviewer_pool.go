package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoReviewer is returned when a role has nobody to assign
var ErrNoReviewer = errors.New("no reviewer available")

// ReviewerPool hands out reviewers round-robin per role
type ReviewerPool struct {
	mu        sync.Mutex
	reviewers map[string][]string
	next      map[string]int
}

// NewReviewerPool creates a pool from role -> reviewer ids
func NewReviewerPool(reviewers map[string][]string) *ReviewerPool {
	p := &ReviewerPool{
		reviewers: make(map[string][]string, len(reviewers)),
		next:      make(map[string]int, len(reviewers)),
	}
	for role, ids := range reviewers {
		p.reviewers[role] = append([]string(nil), ids...)
	}
	return p
}

// NextReviewer returns the next reviewer for the role
func (p *ReviewerPool) NextReviewer(ctx context.Context, role string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := p.reviewers[role]
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: role %s", ErrNoReviewer, role)
	}
	i := p.next[role] % len(ids)
	p.next[role] = i + 1
	return ids[i], nil
}

// SetReviewers replaces the reviewers of a role and restarts its rotation
func (p *ReviewerPool) SetReviewers(role string, ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviewers[role] = append([]string(nil), ids...)
	p.next[role] = 0
}
