package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Archiver moves audit entries past the retention horizon into the
// archive table. Nothing is ever deleted outright.
type Archiver struct {
	repo           Repository
	ledger         *Ledger
	logger         zerolog.Logger
	retentionYears int
	interval       time.Duration
	now            func() time.Time
}

func NewArchiver(repo Repository, ledger *Ledger, logger zerolog.Logger, retentionYears int, interval time.Duration) *Archiver {
	return &Archiver{
		repo:           repo,
		ledger:         ledger,
		logger:         logger.With().Str("component", "audit-archiver").Logger(),
		retentionYears: retentionYears,
		interval:       interval,
		now:            time.Now,
	}
}

// Sweep moves every entry older than the retention horizon to the
// archive. The sweep is keyed on the cutoff timestamp, so running it
// twice moves nothing the second time. Each sweep that moves rows is
// itself recorded in the ledger.
func (a *Archiver) Sweep(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().AddDate(-a.retentionYears, 0, 0)

	moved, err := a.repo.ArchiveBefore(ctx, cutoff)
	if err != nil {
		a.logger.Error().Err(err).Time("cutoff", cutoff).Msg("retention sweep failed")
		return 0, err
	}

	a.logger.Info().Time("cutoff", cutoff).Int64("moved", moved).Msg("retention sweep complete")

	if moved > 0 {
		a.ledger.Record(ctx, &Entry{
			TenantID:        "system",
			ActorID:         "archiver",
			ActorRole:       "system",
			Action:          ActionUpdate,
			Resource:        "audit_entry",
			Justification:   fmt.Sprintf("retention sweep moved %d entries before %s", moved, cutoff.Format(time.RFC3339)),
			ComplianceFlags: []string{FlagRetentionSweep},
		})
	}
	return moved, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				// Next tick retries; the sweep is idempotent.
				continue
			}
		}
	}
}
