// README: Ride store backed by PostgreSQL with optimistic status/version compare-and-swap.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, riderID types.ID, pickup, destination string) (*Ride, error) {
	r, err := newRide(riderID, pickup, destination, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO rides (id, rider_id, driver_id, pickup, destination, status, status_version, created_at)
		VALUES ($1, $2, NULL, $3, $4, $5, $6, $7)`,
		string(r.ID),
		string(r.RiderID),
		r.Pickup,
		r.Destination,
		string(r.Status),
		r.StatusVersion,
		r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ride: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, rider_id, driver_id, pickup, destination, status, status_version,
		       created_at, accepted_at, completed_at, cancelled_at, cancel_reason
		FROM rides
		WHERE id = $1`, string(id),
	)

	var r Ride
	var driverID *string
	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &r.Pickup, &r.Destination, &r.Status, &r.StatusVersion,
		&r.CreatedAt, &r.AcceptedAt, &r.CompletedAt, &r.CancelledAt, &r.CancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ride: %w", err)
	}
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	return &r, nil
}

// TryTransition applies mutate to the current row and writes it back only if neither the
// status nor the version moved in between.
func (s *PostgresStore) TryTransition(ctx context.Context, id types.ID, expected Status, mutate Mutation) (*Ride, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := applyTransition(cur, expected, mutate, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1,
		    status_version = $2,
		    driver_id = $3,
		    accepted_at = $4,
		    completed_at = $5,
		    cancelled_at = $6,
		    cancel_reason = $7
		WHERE id = $8 AND status = $9 AND status_version = $10`,
		string(next.Status),
		next.StatusVersion,
		toStringPtr(next.DriverID),
		next.AcceptedAt,
		next.CompletedAt,
		next.CancelledAt,
		next.CancelReason,
		string(id),
		string(expected),
		cur.StatusVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return next, nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStaleState
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
