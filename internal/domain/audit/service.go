package audit

import (
	"context"
	"fmt"
	"time"
)

// Service exposes the read side of the ledger for compliance review.
// All writes go through the Ledger.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SubjectTrail returns the complete audit trail for one subject in
// insertion order.
func (s *Service) SubjectTrail(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*Entry, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant_id is required")
	}
	if subjectID == "" {
		return nil, 0, fmt.Errorf("subject_id is required")
	}
	return s.repo.ListBySubject(ctx, tenantID, subjectID, limit, offset)
}

// Export returns a tenant's entries within [from, to) for compliance
// reporting.
func (s *Service) Export(ctx context.Context, tenantID string, from, to time.Time, limit, offset int) ([]*Entry, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant_id is required")
	}
	if from.IsZero() || to.IsZero() {
		return nil, 0, fmt.Errorf("from and to are required")
	}
	if !from.Before(to) {
		return nil, 0, fmt.Errorf("from must be before to")
	}
	return s.repo.ListByTenantRange(ctx, tenantID, from, to, limit, offset)
}
