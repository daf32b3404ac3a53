package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/ovaphlow/pitchfork/service-secrets/internal/session/entity"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// MemoryRepo keeps sessions in a bigcache instance. Entries are evicted once
// the cache life window passes; callers still check ExpiresAt themselves.
type MemoryRepo struct {
	cache *bigcache.BigCache
}

func NewMemoryRepo(ttl time.Duration) (*MemoryRepo, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = time.Minute
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &MemoryRepo{cache: cache}, nil
}

func (m *MemoryRepo) Save(ctx context.Context, s *entity.Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.cache.Set(s.ID, buf)
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*entity.Session, error) {
	buf, err := m.cache.Get(id)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s entity.Session
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) error {
	err := m.cache.Delete(id)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (m *MemoryRepo) Close() error {
	return m.cache.Close()
}
