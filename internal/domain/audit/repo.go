package audit

import (
	"context"
	"time"
)

// Repository persists ledger entries. Implementations expose no update
// or delete operations; the only way an entry leaves the live table is
// the retention sweep, which moves it to the archive.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ListBySubject(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*Entry, int, error)
	ListByTenantRange(ctx context.Context, tenantID string, from, to time.Time, limit, offset int) ([]*Entry, int, error)
	// ArchiveBefore moves entries with timestamp < cutoff into the
	// archive table and returns how many rows moved. Safe to re-run.
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
