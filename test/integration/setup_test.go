package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rounds/internal/domain/rounds"
	"github.com/ehr/rounds/internal/platform/db"
	"github.com/ehr/rounds/migrations"
)

// testPool is the shared postgres pool, migrated once in TestMain.
var testPool *pgxpool.Pool

// TestMain connects to ROUNDS_TEST_DATABASE_URL when set and otherwise starts
// a postgres container. Without either the suite is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("ROUNDS_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
			os.Exit(0)
		}
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 10})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	testPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// newPatient builds an active patient with a unique id so tests can share
// the database without truncating it.
func newPatient(t *testing.T, name string) *rounds.Patient {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := rounds.ClonePatient(nil)
	p.ID = "patient-" + uuid.NewString()
	p.AdmissionID = "admission-" + uuid.NewString()
	p.Name = name
	p.Site = "Cabrini"
	p.CreatedAt = now
	p.LastUpdatedAt = now
	p.Version = 1
	return p
}

func createPatient(t *testing.T, repo rounds.PatientRepository, name string) *rounds.Patient {
	t.Helper()
	p := newPatient(t, name)
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient %s: %v", name, err)
	}
	return p
}
