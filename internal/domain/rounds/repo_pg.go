package rounds

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rounds/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, admission_id, name, site, status, document, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.AdmissionID, p.Name, p.Site, p.Status, doc, p.Version, p.CreatedAt, p.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	var (
		raw     []byte
		version int
	)
	err := r.conn(ctx).QueryRow(ctx, `SELECT document, version FROM patients WHERE id = $1`, id).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	entries, err := r.entries(ctx, id, -1, 0)
	if err != nil {
		return nil, err
	}
	return decodeDocument(raw, version, entries)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient, expectedVersion int, entry *WardEntry) error {
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE patients SET name=$3, site=$4, status=$5, document=$6, version=$7, updated_at=$8
			WHERE id = $1 AND version = $2`,
			p.ID, expectedVersion, p.Name, p.Site, p.Status, doc, p.Version, p.LastUpdatedAt)
		if err != nil {
			return fmt.Errorf("update patient %s: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return r.missOrConflict(ctx, p.ID)
		}
		if entry == nil {
			return nil
		}
		diff, err := encodeEntryDiff(entry)
		if err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO ward_entries (id, patient_id, recorded_at, transcript, diff)
			VALUES ($1,$2,$3,$4,$5)`,
			entry.ID, p.ID, entry.Timestamp, entry.Transcript, diff); err != nil {
			return fmt.Errorf("insert ward entry %s: %w", entry.ID, err)
		}
		return nil
	})
}

func (r *patientRepoPG) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check patient %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return fmt.Errorf("%w: %s", ErrVersionConflict, id)
}

func (r *patientRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, document, version FROM patients
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	type row struct {
		id      string
		raw     []byte
		version int
	}
	var found []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.raw, &rw.version); err != nil {
			rows.Close()
			return nil, 0, err
		}
		found = append(found, rw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	items := make([]*Patient, 0, len(found))
	for _, rw := range found {
		entries, err := r.entries(ctx, rw.id, -1, 0)
		if err != nil {
			return nil, 0, err
		}
		p, err := decodeDocument(rw.raw, rw.version, entries)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

func (r *patientRepoPG) ListWardEntries(ctx context.Context, patientID string, limit, offset int) ([]WardEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM ward_entries WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.entries(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// entries reads the audit log oldest first. A negative limit reads all.
func (r *patientRepoPG) entries(ctx context.Context, patientID string, limit, offset int) ([]WardEntry, error) {
	q := `SELECT id, recorded_at, transcript, diff FROM ward_entries
		WHERE patient_id = $1 ORDER BY recorded_at, id`
	args := []interface{}{patientID}
	if limit >= 0 {
		q += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ward entries for %s: %w", patientID, err)
	}
	defer rows.Close()

	items := []WardEntry{}
	for rows.Next() {
		var (
			e   WardEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Transcript, &raw); err != nil {
			return nil, err
		}
		if e.Diff, err = DecodeDiff(raw); err != nil {
			return nil, fmt.Errorf("decode ward entry %s: %w", e.ID, err)
		}
		e.Timestamp = e.Timestamp.UTC()
		items = append(items, e)
	}
	return items, rows.Err()
}
