package subject

import (
	"context"
	"encoding/json"
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

func (r *RepoPG) CreateSubject(ctx context.Context, s *Subject) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	contacts, err := json.Marshal(s.EmergencyContacts)
	if err != nil {
		return fmt.Errorf("encode emergency contacts: %w", err)
	}
	providers, err := json.Marshal(s.Providers)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}

	const q = `INSERT INTO subject (id, tenant_id, owner_id, display_name, emergency_contacts, providers, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = r.conn(ctx).Exec(ctx, q, s.ID, s.TenantID, s.OwnerID, s.DisplayName, contacts, providers, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

func (r *RepoPG) GetSubject(ctx context.Context, tenantID string, id uuid.UUID) (*Subject, error) {
	const q = `SELECT id, tenant_id, owner_id, display_name, emergency_contacts, providers, created_at, updated_at
		FROM subject WHERE tenant_id = $1 AND id = $2`

	var s Subject
	var contacts, providers []byte
	err := r.conn(ctx).QueryRow(ctx, q, tenantID, id).Scan(
		&s.ID, &s.TenantID, &s.OwnerID, &s.DisplayName, &contacts, &providers, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}

	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &s.EmergencyContacts); err != nil {
			return nil, fmt.Errorf("decode emergency contacts: %w", err)
		}
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &s.Providers); err != nil {
			return nil, fmt.Errorf("decode providers: %w", err)
		}
	}
	return &s, nil
}

func (r *RepoPG) GetProfile(ctx context.Context, tenantID string, id uuid.UUID) (*Profile, error) {
	s, err := r.GetSubject(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	p := &Profile{Subject: s}

	if p.Medications, err = r.medications(ctx, id); err != nil {
		return nil, err
	}
	if p.Allergies, err = r.allergies(ctx, id); err != nil {
		return nil, err
	}
	if p.DietaryRestrictions, err = r.restrictions(ctx, id); err != nil {
		return nil, err
	}
	if p.Biometrics, err = r.biometrics(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *RepoPG) medications(ctx context.Context, subjectID uuid.UUID) ([]*Medication, error) {
	const q = `SELECT id, subject_id, name, dose, critical, active_since, superseded_at
		FROM medication WHERE subject_id = $1 ORDER BY active_since, id`

	rows, err := r.conn(ctx).Query(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()

	var out []*Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.SubjectID, &m.Name, &m.Dose, &m.Critical, &m.ActiveSince, &m.SupersededAt); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *RepoPG) allergies(ctx context.Context, subjectID uuid.UUID) ([]*Allergy, error) {
	const q = `SELECT id, subject_id, allergen, severity, reactions, recorded_at, superseded_at
		FROM allergy WHERE subject_id = $1 ORDER BY recorded_at, id`

	rows, err := r.conn(ctx).Query(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list allergies: %w", err)
	}
	defer rows.Close()

	var out []*Allergy
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.Allergen, &a.Severity, &a.Reactions, &a.RecordedAt, &a.SupersededAt); err != nil {
			return nil, fmt.Errorf("scan allergy: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *RepoPG) restrictions(ctx context.Context, subjectID uuid.UUID) ([]*DietaryRestriction, error) {
	const q = `SELECT id, subject_id, kind, strictness, recorded_at, superseded_at
		FROM dietary_restriction WHERE subject_id = $1 ORDER BY recorded_at, id`

	rows, err := r.conn(ctx).Query(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list dietary restrictions: %w", err)
	}
	defer rows.Close()

	var out []*DietaryRestriction
	for rows.Next() {
		var d DietaryRestriction
		if err := rows.Scan(&d.ID, &d.SubjectID, &d.Kind, &d.Strictness, &d.RecordedAt, &d.SupersededAt); err != nil {
			return nil, fmt.Errorf("scan dietary restriction: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *RepoPG) biometrics(ctx context.Context, subjectID uuid.UUID) ([]*BiometricReading, error) {
	const q = `SELECT id, subject_id, kind, value, unit, taken_at
		FROM biometric_reading WHERE subject_id = $1 ORDER BY taken_at, id`

	rows, err := r.conn(ctx).Query(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list biometrics: %w", err)
	}
	defer rows.Close()

	var out []*BiometricReading
	for rows.Next() {
		var b BiometricReading
		if err := rows.Scan(&b.ID, &b.SubjectID, &b.Kind, &b.Value, &b.Unit, &b.TakenAt); err != nil {
			return nil, fmt.Errorf("scan biometric: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (r *RepoPG) AddMedication(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ActiveSince.IsZero() {
		m.ActiveSince = time.Now().UTC()
	}

	const q = `INSERT INTO medication (id, subject_id, name, dose, critical, active_since)
		VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := r.conn(ctx).Exec(ctx, q, m.ID, m.SubjectID, m.Name, m.Dose, m.Critical, m.ActiveSince)
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}
	return nil
}

func (r *RepoPG) SupersedeMedication(ctx context.Context, subjectID, medicationID uuid.UUID, at time.Time) error {
	const q = `UPDATE medication SET superseded_at = $3
		WHERE subject_id = $1 AND id = $2 AND superseded_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, q, subjectID, medicationID, at)
	if err != nil {
		return fmt.Errorf("supersede medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ReplaceAllergies(ctx context.Context, subjectID uuid.UUID, allergies []*Allergy) error {
	now := time.Now().UTC()

	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE allergy SET superseded_at = $2 WHERE subject_id = $1 AND superseded_at IS NULL`,
		subjectID, now,
	); err != nil {
		return fmt.Errorf("supersede allergies: %w", err)
	}

	for _, a := range allergies {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.SubjectID = subjectID
		a.RecordedAt = now
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO allergy (id, subject_id, allergen, severity, reactions, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			a.ID, a.SubjectID, a.Allergen, a.Severity, a.Reactions, a.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert allergy: %w", err)
		}
	}
	return nil
}

func (r *RepoPG) ReplaceDietaryRestrictions(ctx context.Context, subjectID uuid.UUID, restrictions []*DietaryRestriction) error {
	now := time.Now().UTC()

	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE dietary_restriction SET superseded_at = $2 WHERE subject_id = $1 AND superseded_at IS NULL`,
		subjectID, now,
	); err != nil {
		return fmt.Errorf("supersede dietary restrictions: %w", err)
	}

	for _, d := range restrictions {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.SubjectID = subjectID
		d.RecordedAt = now
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO dietary_restriction (id, subject_id, kind, strictness, recorded_at)
			VALUES ($1,$2,$3,$4,$5)`,
			d.ID, d.SubjectID, d.Kind, d.Strictness, d.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert dietary restriction: %w", err)
		}
	}
	return nil
}

func (r *RepoPG) AddBiometric(ctx context.Context, b *BiometricReading) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.TakenAt.IsZero() {
		b.TakenAt = time.Now().UTC()
	}

	const q = `INSERT INTO biometric_reading (id, subject_id, kind, value, unit, taken_at)
		VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := r.conn(ctx).Exec(ctx, q, b.ID, b.SubjectID, b.Kind, b.Value, b.Unit, b.TakenAt)
	if err != nil {
		return fmt.Errorf("insert biometric: %w", err)
	}
	return nil
}
