package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Records are immutable apart from AttachArtifact, which invalidates.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) Save(ctx context.Context, rec *Record) error {
	if err := s.primary.Save(ctx, rec); err != nil {
		return err
	}
	s.cache(ctx, rec)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*Record, error) {
	if data, err := s.rdb.Get(ctx, recordKey(id)).Bytes(); err == nil {
		var rec Record
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}
	rec, err := s.primary.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, rec)
	return rec, nil
}

func (s *CachedStore) List(ctx context.Context, limit int) ([]Record, error) {
	return s.primary.List(ctx, limit)
}

func (s *CachedStore) AttachArtifact(ctx context.Context, id, artifactID string) error {
	if err := s.primary.AttachArtifact(ctx, id, artifactID); err != nil {
		return err
	}
	s.rdb.Del(ctx, recordKey(id))
	return nil
}

func (s *CachedStore) cache(ctx context.Context, rec *Record) {
	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, recordKey(rec.ID), data, s.ttl)
	}
}

func recordKey(id string) string { return fmt.Sprintf("rv:record:%s", id) }
