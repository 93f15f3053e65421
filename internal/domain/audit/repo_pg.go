package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresafe/caresafe/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, tenant_id, actor_id, actor_role, subject_id, action, resource,
	resource_id, timestamp, ip_address, user_agent, justification,
	compliance_flags, conflicts_observed`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var conflictsJSON []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ActorID, &e.ActorRole, &e.SubjectID, &e.Action, &e.Resource,
		&e.ResourceID, &e.Timestamp, &e.IPAddress, &e.UserAgent, &e.Justification,
		&e.ComplianceFlags, &conflictsJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(conflictsJSON) > 0 {
		if err := json.Unmarshal(conflictsJSON, &e.ConflictsObserved); err != nil {
			return nil, fmt.Errorf("decode conflicts_observed: %w", err)
		}
	}
	return &e, nil
}

// Insert writes one entry as a single atomic statement. There is no
// corresponding update or delete.
func (r *RepoPG) Insert(ctx context.Context, e *Entry) error {
	conflictsJSON, err := json.Marshal(e.ConflictsObserved)
	if err != nil {
		return fmt.Errorf("encode conflicts_observed: %w", err)
	}

	const q = `
		INSERT INTO audit_entry (
			id, tenant_id, actor_id, actor_role, subject_id, action, resource,
			resource_id, timestamp, ip_address, user_agent, justification,
			compliance_flags, conflicts_observed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = r.conn(ctx).Exec(ctx, q,
		e.ID, e.TenantID, e.ActorID, e.ActorRole, e.SubjectID, e.Action, e.Resource,
		e.ResourceID, e.Timestamp, e.IPAddress, e.UserAgent, e.Justification,
		e.ComplianceFlags, conflictsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListBySubject returns the full trail for one subject in stable order.
// Ties on timestamp break on id so repeated reads never reorder.
func (r *RepoPG) ListBySubject(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*Entry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entry WHERE tenant_id = $1 AND subject_id = $2`,
		tenantID, subjectID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM audit_entry
		WHERE tenant_id = $1 AND subject_id = $2
		ORDER BY timestamp, id LIMIT $3 OFFSET $4`, entryCols)

	rows, err := r.conn(ctx).Query(ctx, q, tenantID, subjectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows, total)
}

// ListByTenantRange returns all entries for a tenant within [from, to).
func (r *RepoPG) ListByTenantRange(ctx context.Context, tenantID string, from, to time.Time, limit, offset int) ([]*Entry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entry WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3`,
		tenantID, from, to,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM audit_entry
		WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp, id LIMIT $4 OFFSET $5`, entryCols)

	rows, err := r.conn(ctx).Query(ctx, q, tenantID, from, to, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows, total)
}

func collectEntries(rows pgx.Rows, total int) ([]*Entry, int, error) {
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, total, nil
}

// ArchiveBefore moves expired entries to audit_entry_archive in one
// transaction. The cutoff keys the sweep, so re-running with the same
// cutoff moves nothing and is harmless.
func (r *RepoPG) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO audit_entry_archive
		SELECT * FROM audit_entry WHERE timestamp < $1
		ON CONFLICT (id) DO NOTHING`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("copy entries to archive: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM audit_entry WHERE timestamp < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("remove archived entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}
