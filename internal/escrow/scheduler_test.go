// internal/escrow/scheduler_test.go
package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookyourshoot/pkg/statestore"
)

// setupTestDB connects to a local postgres and provisions the read model
// table. The test is skipped when no database is reachable.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgDB := os.Getenv("PGDATABASE")

	if pgUser == "" {
		pgUser = "user"
	}
	if pgPassword == "" {
		pgPassword = "password"
	}
	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgDB == "" {
		pgDB = "testdb"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("skipping database tests: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS escrow_transactions (
			id UUID PRIMARY KEY,
			booking_id UUID NOT NULL,
			amount_held NUMERIC NOT NULL,
			state TEXT NOT NULL,
			held_since TIMESTAMPTZ NOT NULL,
			service_date TIMESTAMPTZ NOT NULL,
			platform_fee_rate NUMERIC NOT NULL,
			version INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

// stubService answers CheckAutoRelease from a canned error map so the
// sweep's skip behaviour can be exercised without the full service.
type stubService struct {
	releaseErr map[uuid.UUID]error
	released   []uuid.UUID
}

func (s *stubService) Open(ctx context.Context, req OpenRequest) (*Transaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubService) ConfirmCompletion(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubService) Cancel(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubService) CheckAutoRelease(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	if err, ok := s.releaseErr[id]; ok && err != nil {
		return nil, err
	}
	s.released = append(s.released, id)
	return &Transaction{ID: id, State: StateReleased}, nil
}

func (s *stubService) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubService) History(ctx context.Context, id uuid.UUID) ([]statestore.Event, error) {
	return nil, fmt.Errorf("not implemented")
}

func insertTransaction(t *testing.T, db *sql.DB, id uuid.UUID, state State, heldSince, serviceDate time.Time) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO escrow_transactions (id, booking_id, amount_held, state, held_since, service_date, platform_fee_rate, version)
		VALUES ($1, $2, 10000, $3, $4, $5, 0.10, 1)
	`, id, uuid.New(), state, heldSince, serviceDate)
	require.NoError(t, err)
}

func TestRunOnceReleasesOnlyEligible(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Exec("TRUNCATE TABLE escrow_transactions")
	require.NoError(t, err)

	now := time.Now().UTC()
	grace := 7 * 24 * time.Hour

	eligible := uuid.New()
	insertTransaction(t, db, eligible, StateHeld, now.Add(-10*24*time.Hour), now.Add(-2*24*time.Hour))

	// Held but inside the grace period.
	tooRecent := uuid.New()
	insertTransaction(t, db, tooRecent, StateHeld, now.Add(-2*24*time.Hour), now.Add(-24*time.Hour))

	// Service date still in the future.
	upcoming := uuid.New()
	insertTransaction(t, db, upcoming, StateHeld, now.Add(-10*24*time.Hour), now.Add(5*24*time.Hour))

	// Already released by a client confirmation.
	terminal := uuid.New()
	insertTransaction(t, db, terminal, StateReleased, now.Add(-10*24*time.Hour), now.Add(-2*24*time.Hour))

	svc := &stubService{releaseErr: map[uuid.UUID]error{}}
	log := logrus.New()
	log.SetOutput(os.Stderr)

	sc := NewScheduler(svc, db, log, time.Hour, grace)

	released, err := sc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, released)
	assert.Equal(t, []uuid.UUID{eligible}, svc.released)
}

func TestRunOnceSkipsLostRacesSilently(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Exec("TRUNCATE TABLE escrow_transactions")
	require.NoError(t, err)

	now := time.Now().UTC()
	grace := 7 * 24 * time.Hour

	// Three rows the scan considers eligible; two of them lose the race
	// between the scan and the release attempt.
	won := uuid.New()
	lostToConfirm := uuid.New()
	lostToStaleRead := uuid.New()
	for _, id := range []uuid.UUID{won, lostToConfirm, lostToStaleRead} {
		insertTransaction(t, db, id, StateHeld, now.Add(-10*24*time.Hour), now.Add(-2*24*time.Hour))
	}

	svc := &stubService{releaseErr: map[uuid.UUID]error{
		lostToConfirm:   ErrInvalidStateTransition,
		lostToStaleRead: statestore.ErrStaleRead,
	}}

	sc := NewScheduler(svc, db, logrus.New(), time.Hour, grace)

	released, err := sc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, released)
	assert.Equal(t, []uuid.UUID{won}, svc.released)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Exec("TRUNCATE TABLE escrow_transactions")
	require.NoError(t, err)

	now := time.Now().UTC()
	grace := 7 * 24 * time.Hour

	id := uuid.New()
	insertTransaction(t, db, id, StateHeld, now.Add(-10*24*time.Hour), now.Add(-2*24*time.Hour))

	svc := &stubService{releaseErr: map[uuid.UUID]error{}}
	sc := NewScheduler(svc, db, logrus.New(), time.Hour, grace)

	released, err := sc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, released)

	// The real service would have flipped the read model to released; the
	// second sweep then finds the row terminal and refuses the transition.
	_, err = db.Exec("UPDATE escrow_transactions SET state = $1, version = version + 1 WHERE id = $2", StateReleased, id)
	require.NoError(t, err)

	released, err = sc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}
