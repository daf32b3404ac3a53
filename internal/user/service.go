package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-secrets/internal/user/repo"
)

// PasswordHasher hashes and verifies local passwords.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the credential store the service depends on. Implementations live
// in the repo package (memory, Postgres, MongoDB).
type Store interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	FindOrCreateByOAuthID(ctx context.Context, oauthID string) (*entity.User, bool, error)
	UpdateSecret(ctx context.Context, id, secret string) error
}

var (
	ErrDuplicateUser       = errors.New("username already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrMissingCredentials  = errors.New("username and password required")
	ErrUserNotFound        = errors.New("user not found")
	ErrDatabaseUnavailable = errors.New("database unavailable")
)

// UserService implements the local strategy and the user side of the OAuth strategy.
type UserService struct {
	repo   Store
	hasher PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(r Store, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{repo: r, hasher: hasher}
}

// Register creates a locally authenticated user.
func (s *UserService) Register(ctx context.Context, username, password string) (*entity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{Username: &username, PasswordHash: &hash}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, ErrDuplicateUser
		}
		return nil, unavailable(err)
	}
	return u, nil
}

// Authenticate verifies a username/password pair. Unknown usernames, users
// without a local password and hash mismatches all yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*entity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			// equalize timing with the existing-user path
			s.hasher.Verify(s.dummy(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, unavailable(err)
	}
	if !u.HasPassword() {
		s.hasher.Verify(s.dummy(), password)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(*u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// FindOrCreateByOAuthID resolves an external identity to a user, creating one
// on first sight. The boolean reports whether a user was created.
func (s *UserService) FindOrCreateByOAuthID(ctx context.Context, oauthID string) (*entity.User, bool, error) {
	if oauthID == "" {
		return nil, false, errors.New("empty oauth id")
	}
	u, created, err := s.repo.FindOrCreateByOAuthID(ctx, oauthID)
	if err != nil {
		return nil, false, unavailable(err)
	}
	return u, created, nil
}

// Get loads a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable(err)
	}
	return u, nil
}

// SetSecret overwrites the user's secret. Concurrent writers race; the last one wins.
func (s *UserService) SetSecret(ctx context.Context, id, secret string) error {
	if err := s.repo.UpdateSecret(ctx, id, secret); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrUserNotFound
		}
		return unavailable(err)
	}
	return nil
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
}
