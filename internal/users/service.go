package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/gogotex/sessionguard/internal/models"
)

var (
	// ErrAuthenticationFailed covers unknown email and wrong password alike.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrWeakPassword         = errors.New("password must be at least 8 characters")
)

const minPasswordLength = 8

// Authenticator verifies credentials and yields the identity they belong to.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (models.Identity, error)
}

// Service encapsulates user-related business logic
type Service struct {
	repo      UserRepository
	cost      int
	dummyHash []byte
	now       func() time.Time
}

// NewService returns a credential service. cost <= 0 selects bcrypt.DefaultCost.
func NewService(r UserRepository, cost int) *Service {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	// compared against on unknown emails so lookups cost the same either way
	dummy, _ := bcrypt.GenerateFromPassword([]byte("sessionguard-dummy-password"), cost)
	return &Service{repo: r, cost: cost, dummyHash: dummy, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &models.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (models.Identity, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return models.Identity{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return models.Identity{}, ErrAuthenticationFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return models.Identity{}, ErrAuthenticationFailed
	}
	return u.Identity(), nil
}
