package rounds

import (
	"context"
	"errors"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrVersionConflict = errors.New("patient was modified by another commit")
)

// PatientRepository defines the persistence interface for patients and
// their ward-entry audit log.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	// Update stores p only if the stored version still equals
	// expectedVersion, and appends entry to the audit log in the same
	// transaction. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, p *Patient, expectedVersion int, entry *WardEntry) error
	List(ctx context.Context, status string, limit, offset int) ([]*Patient, int, error)
	ListWardEntries(ctx context.Context, patientID string, limit, offset int) ([]WardEntry, int, error)
}
