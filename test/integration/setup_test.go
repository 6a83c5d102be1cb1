package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/emr/internal/domain/emr"
	"github.com/ehr/emr/internal/domain/patient"
	"github.com/ehr/emr/internal/platform/db"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool          *pgxpool.Pool
	ConnStr       string
	MigrationsDir string
}

// globalDB is nil when TEST_DATABASE_URL is unset; every test then skips.
var globalDB *testDB

func TestMain(m *testing.M) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := db.NewPool(ctx, db.PoolOptions{DatabaseURL: connStr, ApplicationName: "emr-integration"})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
		os.Exit(1)
	}

	globalDB = &testDB{
		Pool:          pool,
		ConnStr:       connStr,
		MigrationsDir: findMigrationsDir(),
	}
	code := m.Run()
	pool.Close()
	os.Exit(code)
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(filename), "..", "..")
	return filepath.Join(root, "migrations")
}

// newSchemaPool creates a throwaway schema, migrates it and returns a pool
// whose connections resolve unqualified names there. The schema is dropped
// when the test ends.
func newSchemaPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if globalDB == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	schema := "it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	if _, err := globalDB.Pool.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := globalDB.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	cfg, err := pgxpool.ParseConfig(globalDB.ConnStr)
	if err != nil {
		t.Fatalf("parse connection string: %v", err)
	}
	cfg.MaxConns = 4
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create schema pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, globalDB.MigrationsDir).Up(ctx); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}
	return pool
}

// services wires the real repositories against one schema.
type services struct {
	pool     *pgxpool.Pool
	patients *patient.Service
	emr      *emr.Service
	clock    *clock
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newServices(t *testing.T) *services {
	t.Helper()
	pool := newSchemaPool(t)
	clk := &clock{t: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)}

	patients := patient.NewService(
		patient.NewPatientRepo(pool),
		patient.NewVisitRepo(pool),
		patient.NewAlertRepo(pool),
		db.NewTransactor(pool),
		patient.Defaults{Clinic: "CHN", Location: "Chennai"},
		patient.WithClock(clk.Now),
	)
	return &services{
		pool:     pool,
		patients: patients,
		emr:      emr.NewService(emr.NewRepo(pool), "system"),
		clock:    clk,
	}
}

func (s *services) createPatient(t *testing.T, mr string, mutate ...func(*patient.CreatePatientRequest)) *patient.Patient {
	t.Helper()
	req := &patient.CreatePatientRequest{MRNumber: mr, Name: "Patient " + mr}
	for _, m := range mutate {
		m(req)
	}
	p, err := s.patients.CreatePatient(context.Background(), req)
	if err != nil {
		t.Fatalf("create patient %s: %v", mr, err)
	}
	return p
}

func (s *services) count(t *testing.T, table, patientID string) int {
	t.Helper()
	var n int
	err := s.pool.QueryRow(context.Background(),
		"SELECT count(*) FROM "+table+" WHERE patient_id = $1", patientID).Scan(&n)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func strPtr(s string) *string { return &s }
