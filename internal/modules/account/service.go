package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ridehail/internal/logger"
	"ridehail/internal/types"
)

// TokenIssuer signs session tokens for authenticated accounts.
type TokenIssuer interface {
	Issue(uid, role string) (string, time.Time, error)
}

type Session struct {
	Account   *Account
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	store   Store
	issuer  TokenIssuer
	revoked RevocationList
	log     logger.Logger
	now     func() time.Time
}

func NewService(store Store, issuer TokenIssuer, revoked RevocationList, log logger.Logger) *Service {
	return &Service{store: store, issuer: issuer, revoked: revoked, log: log, now: time.Now}
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Session, error) {
	log := s.log.Action("register")
	if err := cmd.normalize(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &Account{
		ID:            types.NewID(),
		Role:          cmd.Role,
		Name:          cmd.Name,
		Email:         cmd.Email,
		PasswordHash:  string(hash),
		LicenseNumber: cmd.LicenseNumber,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			log.Warn("email already registered", "role", cmd.Role)
			return nil, err
		}
		log.Error("failed to save account", err)
		return nil, fmt.Errorf("save account: %w", err)
	}
	log.Info("account registered", "account_id", a.ID, "role", a.Role)
	return s.session(a)
}

func (s *Service) Login(ctx context.Context, cmd LoginCommand) (*Session, error) {
	a, err := s.store.GetByEmail(ctx, cmd.Role, normalizeEmail(cmd.Email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(cmd.Password)) != nil {
		s.log.Action("login").Debug("password mismatch", "account_id", a.ID)
		return nil, ErrInvalidCredentials
	}
	return s.session(a)
}

// Logout revokes token until its expiry. An empty token is a no-op so a client
// without a session can always log out.
func (s *Service) Logout(ctx context.Context, token string, expiresAt time.Time) error {
	if token == "" {
		return nil
	}
	return s.revoked.Revoke(ctx, token, expiresAt)
}

func (s *Service) Profile(ctx context.Context, id types.ID) (*Account, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) session(a *Account) (*Session, error) {
	token, exp, err := s.issuer.Issue(string(a.ID), string(a.Role))
	if err != nil {
		return nil, err
	}
	return &Session{Account: a, Token: token, ExpiresAt: exp}, nil
}
