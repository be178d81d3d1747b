package rounds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// sqliteTime keeps stored timestamps lexically sortable.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// PatientRepoSQLite implements PatientRepository on a local SQLite file.
type PatientRepoSQLite struct {
	db *sql.DB
}

func NewPatientRepoSQLite(db *sql.DB) *PatientRepoSQLite {
	return &PatientRepoSQLite{db: db}
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func (r *PatientRepoSQLite) Create(ctx context.Context, p *Patient) error {
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO patients (id, admission_id, name, site, status, document, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AdmissionID, p.Name, p.Site, p.Status, doc, p.Version,
		formatSQLiteTime(p.CreatedAt), formatSQLiteTime(p.LastUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *PatientRepoSQLite) GetByID(ctx context.Context, id string) (*Patient, error) {
	var (
		raw     string
		version int
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT document, version FROM patients WHERE id = ?", id,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	entries, err := r.entries(ctx, id, -1, 0)
	if err != nil {
		return nil, err
	}
	return decodeDocument([]byte(raw), version, entries)
}

func (r *PatientRepoSQLite) Update(ctx context.Context, p *Patient, expectedVersion int, entry *WardEntry) error {
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE patients SET name = ?, site = ?, status = ?, document = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Name, p.Site, p.Status, doc, p.Version, formatSQLiteTime(p.LastUpdatedAt),
		p.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients WHERE id = ?", p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check patient: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrPatientNotFound, p.ID)
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, p.ID)
	}

	if entry != nil {
		diff, err := encodeEntryDiff(entry)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO ward_entries (id, patient_id, recorded_at, transcript, diff) VALUES (?, ?, ?, ?, ?)",
			entry.ID, p.ID, formatSQLiteTime(entry.Timestamp), entry.Transcript, diff,
		); err != nil {
			return fmt.Errorf("failed to insert ward entry: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PatientRepoSQLite) List(ctx context.Context, status string, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM patients WHERE (? = '' OR status = ?)", status, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count patients: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document, version FROM patients
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`,
		status, status, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}

	type row struct {
		id      string
		raw     string
		version int
	}
	var found []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.raw, &rw.version); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan patient: %w", err)
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
		p, err := decodeDocument([]byte(rw.raw), rw.version, entries)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

func (r *PatientRepoSQLite) ListWardEntries(ctx context.Context, patientID string, limit, offset int) ([]WardEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ward_entries WHERE patient_id = ?", patientID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count ward entries: %w", err)
	}
	items, err := r.entries(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PatientRepoSQLite) entries(ctx context.Context, patientID string, limit, offset int) ([]WardEntry, error) {
	query := "SELECT id, recorded_at, transcript, diff FROM ward_entries WHERE patient_id = ? ORDER BY recorded_at, rowid"
	args := []interface{}{patientID}
	if limit >= 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ward entries: %w", err)
	}
	defer rows.Close()

	items := []WardEntry{}
	for rows.Next() {
		var (
			e          WardEntry
			recordedAt string
			raw        string
		)
		if err := rows.Scan(&e.ID, &recordedAt, &e.Transcript, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan ward entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(sqliteTime, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse ward entry time: %w", err)
		}
		if e.Diff, err = DecodeDiff([]byte(raw)); err != nil {
			return nil, fmt.Errorf("failed to decode ward entry %s: %w", e.ID, err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
