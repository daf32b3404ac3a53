package repo

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-secrets/pkg/utilities"
)

// MemoryRepo keeps users in process memory. It backs memory:// deployments and tests.
type MemoryRepo struct {
	mu         sync.RWMutex
	byID       map[string]*entity.User
	byUsername map[string]string
	byOAuthID  map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       make(map[string]*entity.User),
		byUsername: make(map[string]string),
		byOAuthID:  make(map[string]string),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.Username != nil {
		if _, ok := r.byUsername[*u.Username]; ok {
			return ErrDuplicate
		}
	}
	if u.OAuthID != nil {
		if _, ok := r.byOAuthID[*u.OAuthID]; ok {
			return ErrDuplicate
		}
	}
	r.insertLocked(u)
	return nil
}

func (r *MemoryRepo) insertLocked(u *entity.User) {
	if u.ID == "" {
		u.ID = utilities.NewSnowflakeID()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	stored := clone(u)
	r.byID[u.ID] = stored
	if u.Username != nil {
		r.byUsername[*u.Username] = u.ID
	}
	if u.OAuthID != nil {
		r.byOAuthID[*u.OAuthID] = u.ID
	}
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (r *MemoryRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepo) FindOrCreateByOAuthID(ctx context.Context, oauthID string) (*entity.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byOAuthID[oauthID]; ok {
		return clone(r.byID[id]), false, nil
	}
	u := &entity.User{OAuthID: strPtr(oauthID)}
	r.insertLocked(u)
	return u, true, nil
}

func (r *MemoryRepo) UpdateSecret(ctx context.Context, id, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Secret = strPtr(secret)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Len returns the number of stored users.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(u *entity.User) *entity.User {
	c := *u
	if u.Username != nil {
		c.Username = strPtr(*u.Username)
	}
	if u.PasswordHash != nil {
		c.PasswordHash = strPtr(*u.PasswordHash)
	}
	if u.OAuthID != nil {
		c.OAuthID = strPtr(*u.OAuthID)
	}
	if u.Secret != nil {
		c.Secret = strPtr(*u.Secret)
	}
	return &c
}
