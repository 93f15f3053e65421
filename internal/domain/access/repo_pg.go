package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

func (r *RepoPG) Get(ctx context.Context, tenantID, actorID, subjectID string) (*Relationship, error) {
	const q = `SELECT id, tenant_id, actor_id, subject_id, permission, can_view_health_data, updated_at
		FROM family_relationship
		WHERE tenant_id = $1 AND actor_id = $2 AND subject_id = $3`

	var rel Relationship
	err := r.conn(ctx).QueryRow(ctx, q, tenantID, actorID, subjectID).Scan(
		&rel.ID, &rel.TenantID, &rel.ActorID, &rel.SubjectID, &rel.Permission, &rel.CanViewHealthData, &rel.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return &rel, nil
}

func (r *RepoPG) Set(ctx context.Context, rel *Relationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	rel.UpdatedAt = time.Now().UTC()

	const q = `INSERT INTO family_relationship (id, tenant_id, actor_id, subject_id, permission, can_view_health_data, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, actor_id, subject_id)
		DO UPDATE SET permission = EXCLUDED.permission,
			can_view_health_data = EXCLUDED.can_view_health_data,
			updated_at = EXCLUDED.updated_at`

	_, err := r.conn(ctx).Exec(ctx, q,
		rel.ID, rel.TenantID, rel.ActorID, rel.SubjectID, rel.Permission, rel.CanViewHealthData, rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("set relationship: %w", err)
	}
	return nil
}

func (r *RepoPG) ListForSubject(ctx context.Context, tenantID, subjectID string) ([]*Relationship, error) {
	const q = `SELECT id, tenant_id, actor_id, subject_id, permission, can_view_health_data, updated_at
		FROM family_relationship
		WHERE tenant_id = $1 AND subject_id = $2
		ORDER BY updated_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.TenantID, &rel.ActorID, &rel.SubjectID, &rel.Permission, &rel.CanViewHealthData, &rel.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

func (r *RepoPG) InsertEmergencyLog(ctx context.Context, log *EmergencyAccessLog) error {
	const q = `INSERT INTO emergency_access_log (id, tenant_id, actor_id, subject_id, reason, scope, granted_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.conn(ctx).Exec(ctx, q,
		log.ID, log.TenantID, log.ActorID, log.SubjectID, log.Reason, log.Scope, log.GrantedAt, log.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert emergency access log: %w", err)
	}
	return nil
}

func (r *RepoPG) ListEmergencyLogs(ctx context.Context, tenantID, subjectID string, limit, offset int) ([]*EmergencyAccessLog, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM emergency_access_log WHERE tenant_id = $1 AND subject_id = $2`,
		tenantID, subjectID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count emergency access logs: %w", err)
	}

	const q = `SELECT id, tenant_id, actor_id, subject_id, reason, scope, granted_at, expires_at
		FROM emergency_access_log
		WHERE tenant_id = $1 AND subject_id = $2
		ORDER BY granted_at, id LIMIT $3 OFFSET $4`

	rows, err := r.conn(ctx).Query(ctx, q, tenantID, subjectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list emergency access logs: %w", err)
	}
	defer rows.Close()

	var logs []*EmergencyAccessLog
	for rows.Next() {
		var l EmergencyAccessLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ActorID, &l.SubjectID, &l.Reason, &l.Scope, &l.GrantedAt, &l.ExpiresAt); err != nil {
			return nil, 0, fmt.Errorf("scan emergency access log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate emergency access logs: %w", err)
	}
	return logs, total, nil
}
