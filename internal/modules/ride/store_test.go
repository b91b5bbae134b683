package ride

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/infra"
	"ridehail/internal/types"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return setupPostgresStore(t) })
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		r, err := store.Create(ctx, "u1", "A", "B")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if r.Status != StatusPending || r.DriverID != nil {
			t.Fatalf("unexpected new ride: %+v", r)
		}
		got, err := store.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != r.ID || got.Pickup != "A" || got.Destination != "B" || got.RiderID != "u1" {
			t.Fatalf("round trip mismatch: %+v vs %+v", got, r)
		}
	})

	t.Run("CreateValidation", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Create(context.Background(), "u1", "", "B"); err != ErrValidation {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(context.Background(), types.NewID()); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TransitionUnknown", func(t *testing.T) {
		store := newStore(t)
		_, err := store.TryTransition(context.Background(), types.NewID(), StatusPending, AssignDriver("d1"))
		if err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		r := mustCreate(t, store)

		accepted, err := store.TryTransition(ctx, r.ID, StatusPending, AssignDriver("d1"))
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if accepted.Status != StatusAccepted || accepted.DriverID == nil || *accepted.DriverID != "d1" {
			t.Fatalf("unexpected accepted ride: %+v", accepted)
		}
		if _, err := store.TryTransition(ctx, r.ID, StatusPending, AssignDriver("d2")); err != ErrStaleState {
			t.Fatalf("second accept: expected ErrStaleState, got %v", err)
		}
		completed, err := store.TryTransition(ctx, r.ID, StatusAccepted, MarkCompleted())
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if completed.CompletedAt == nil {
			t.Fatalf("completed_at not set")
		}

		got, err := store.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusCompleted || got.DriverID == nil || *got.DriverID != "d1" {
			t.Fatalf("unexpected stored ride: %+v", got)
		}
	})

	t.Run("TerminalStatesAreFinal", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		cancelled := mustCreate(t, store)
		if _, err := store.TryTransition(ctx, cancelled.ID, StatusPending, MarkCancelled("")); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		completed := mustCreate(t, store)
		if _, err := store.TryTransition(ctx, completed.ID, StatusPending, AssignDriver("d1")); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := store.TryTransition(ctx, completed.ID, StatusAccepted, MarkCompleted()); err != nil {
			t.Fatalf("complete: %v", err)
		}

		mutations := []Mutation{AssignDriver("d9"), MarkCompleted(), MarkCancelled("again"),
			func(r *Ride) { r.Status = StatusPending }}
		for _, id := range []types.ID{cancelled.ID, completed.ID} {
			for _, expected := range []Status{StatusPending, StatusAccepted, StatusCompleted, StatusCancelled} {
				for i, m := range mutations {
					if _, err := store.TryTransition(ctx, id, expected, m); err == nil {
						t.Fatalf("ride %s: mutation %d from %s succeeded on terminal ride", id, i, expected)
					}
				}
			}
		}
		for id, want := range map[types.ID]Status{cancelled.ID: StatusCancelled, completed.ID: StatusCompleted} {
			got, err := store.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != want {
				t.Fatalf("terminal ride moved: got %s, want %s", got.Status, want)
			}
		}
	})

	t.Run("ConcurrentAcceptSameRide", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		r := mustCreate(t, store)

		const attempts = 16
		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(did types.ID) {
				defer wg.Done()
				<-start
				_, err := store.TryTransition(ctx, r.ID, StatusPending, AssignDriver(did))
				errs <- err
			}(types.ID(fmt.Sprintf("d%d", i)))
		}
		close(start)
		wg.Wait()
		close(errs)

		success := 0
		for err := range errs {
			if err == nil {
				success++
				continue
			}
			if err != ErrStaleState {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if success != 1 {
			t.Fatalf("expected exactly 1 success, got %d", success)
		}
		got, err := store.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusAccepted || got.DriverID == nil {
			t.Fatalf("unexpected final ride: %+v", got)
		}
	})
}

func mustCreate(t *testing.T, store Store) *Ride {
	t.Helper()
	r, err := store.Create(context.Background(), "u1", "A", "B")
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("RIDEHAIL_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDEHAIL_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	path, err := infra.MigrationPath()
	if err != nil {
		t.Fatalf("locate migrations: %v", err)
	}
	if err := infra.ApplyMigrations(ctx, db, path); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE rides"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPostgresStore(db)
}
