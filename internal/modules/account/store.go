package account

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/types"
)

// Store persists accounts. Email is unique per role, so the same address may
// hold one rider and one driver account.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id types.ID) (*Account, error)
	GetByEmail(ctx context.Context, role types.Role, email string) (*Account, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[types.ID]*Account
	byEmail map[string]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[types.ID]*Account),
		byEmail: make(map[string]types.ID),
	}
}

func emailKey(role types.Role, email string) string {
	return string(role) + "|" + email
}

func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey(a.Role, a.Email)
	if _, ok := s.byEmail[key]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	s.byID[a.ID] = &cp
	s.byEmail[key] = a.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, role types.Role, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[emailKey(role, email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, role, name, email, password_hash, license_number, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		string(a.ID), string(a.Role), a.Name, a.Email, a.PasswordHash, a.LicenseNumber, a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

const selectAccount = `
	SELECT id, role, name, email, password_hash, license_number, created_at
	FROM accounts`

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Account, error) {
	return scanAccount(s.db.QueryRow(ctx, selectAccount+` WHERE id=$1`, string(id)))
}

func (s *PostgresStore) GetByEmail(ctx context.Context, role types.Role, email string) (*Account, error) {
	return scanAccount(s.db.QueryRow(ctx, selectAccount+` WHERE role=$1 AND email=$2`, string(role), email))
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var id, role string
	err := row.Scan(&id, &role, &a.Name, &a.Email, &a.PasswordHash, &a.LicenseNumber, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ID = types.ID(id)
	a.Role = types.Role(role)
	return &a, nil
}
