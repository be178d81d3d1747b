package rounds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehr/rounds/internal/platform/db"
)

func setupTestDB(t *testing.T) *PatientRepoSQLite {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewPatientRepoSQLite(conn)
}

func TestPatientRepoSQLite_CreateAndGet(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	p := newTestPatient()
	p.ExpectedDischargeDate = strPtr("2026-05-10")
	p.Issues = []Issue{{ID: "issue-1", Title: "AF", Status: IssueOpen, Subpoints: []Subpoint{{ID: "sub-1", Type: SubpointMedication, Medication: &MedicationEntry{Name: "metoprolol", Dose: "25mg"}}}}}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != p.Name || got.Version != 1 || got.Status != PatientActive {
		t.Errorf("unexpected patient %+v", got)
	}
	if got.ExpectedDischargeDate == nil || *got.ExpectedDischargeDate != "2026-05-10" {
		t.Errorf("unexpected discharge date %v", got.ExpectedDischargeDate)
	}
	if med := got.Issues[0].Subpoints[0].Medication; med == nil || med.Dose != "25mg" {
		t.Errorf("medication lost in round trip: %+v", got.Issues[0].Subpoints[0])
	}
	if got.WardEntries == nil || len(got.WardEntries) != 0 {
		t.Errorf("expected empty audit log, got %+v", got.WardEntries)
	}

	if _, err := repo.GetByID(ctx, "patient-404"); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestPatientRepoSQLite_UpdateAppendsEntry(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	p := newTestPatient()
	p.Tasks = []Task{{ID: "task-1", Text: "chase echo", Status: TaskOpen}}
	repo.Create(ctx, p)

	r := newTestReconciler()
	next, entry := r.Apply(p, WardUpdateDiff{
		TaskIDsCompleted:      []string{"task-1"},
		ExpectedDischargeDate: ClearDate(),
	}, "echo done")
	next.Version = 2
	if err := repo.Update(ctx, next, 1, &entry); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || got.Tasks[0].Status != TaskDone || got.Tasks[0].CompletedAt == nil {
		t.Errorf("unexpected patient %+v", got)
	}
	if len(got.WardEntries) != 1 {
		t.Fatalf("expected one entry, got %d", len(got.WardEntries))
	}
	stored := got.WardEntries[0]
	if stored.ID != entry.ID || stored.Transcript != "echo done" || !stored.Timestamp.Equal(testNow) {
		t.Errorf("unexpected entry %+v", stored)
	}
	if stored.Diff.ExpectedDischargeDate != ClearDate() {
		t.Errorf("expected cleared date preserved, got %+v", stored.Diff.ExpectedDischargeDate)
	}
}

func TestPatientRepoSQLite_VersionConflict(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	p := newTestPatient()
	repo.Create(ctx, p)

	r := newTestReconciler()
	first, e1 := r.Apply(p, WardUpdateDiff{TasksToAdd: []Task{{Text: "a"}}}, "")
	first.Version = 2
	if err := repo.Update(ctx, first, 1, &e1); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale, e2 := r.Apply(p, WardUpdateDiff{TasksToAdd: []Task{{Text: "b"}}}, "")
	stale.Version = 2
	if err := repo.Update(ctx, stale, 1, &e2); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := repo.GetByID(ctx, p.ID)
	if len(got.Tasks) != 1 || got.Tasks[0].Text != "a" || len(got.WardEntries) != 1 {
		t.Errorf("stale write leaked: %+v", got)
	}

	ghost := newTestPatient()
	ghost.ID = "patient-404"
	if err := repo.Update(ctx, ghost, 1, nil); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestPatientRepoSQLite_List(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for i, name := range []string{"A", "B", "C"} {
		p := newTestPatient()
		p.ID = "patient-" + name
		p.Name = name
		p.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	b, _ := repo.GetByID(ctx, "patient-B")
	discharged, entry := newTestReconciler().Discharge(b, "home")
	discharged.Version = 2
	if err := repo.Update(ctx, discharged, 1, &entry); err != nil {
		t.Fatalf("discharge: %v", err)
	}

	all, total, err := repo.List(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(all) != 3 || all[0].Name != "C" {
		t.Errorf("expected newest first, got total=%d first=%v", total, all[0].Name)
	}

	active, total, _ := repo.List(ctx, PatientActive, 1, 1)
	if total != 2 || len(active) != 1 || active[0].Name != "A" {
		t.Errorf("unexpected active page total=%d %+v", total, active)
	}

	entries, n, err := repo.ListWardEntries(ctx, "patient-B", 10, 0)
	if err != nil || n != 1 || len(entries) != 1 || entries[0].Transcript != "home" {
		t.Errorf("unexpected entries %+v (%d, %v)", entries, n, err)
	}
}
