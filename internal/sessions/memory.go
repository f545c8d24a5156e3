package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps sessions in process memory. A single mutex makes
// Revoke a compare-and-swap.
type MemoryRepository struct {
	mu     sync.Mutex
	byHash map[string]*Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byHash: make(map[string]*Session)}
}

func clone(s *Session) *Session {
	c := *s
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

// Create supersedes any unrevoked session of the same device under the lock.
func (r *MemoryRepository) Create(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[s.TokenHash]; ok {
		return errors.New("duplicate token hash")
	}
	if !s.Revoked {
		for _, old := range r.byHash {
			if !old.Revoked && old.UserID == s.UserID && old.DeviceID == s.DeviceID {
				old.Revoked = true
			}
		}
	}
	r.byHash[s.TokenHash] = clone(s)
	return nil
}

func (r *MemoryRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	return clone(s), nil
}

func (r *MemoryRepository) ListUnrevoked(ctx context.Context, userID string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.byHash {
		if s.UserID == userID && !s.Revoked {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, tokenHash string, usedAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[tokenHash]
	if !ok || s.Revoked {
		return false, nil
	}
	s.Revoked = true
	if usedAt != nil {
		t := *usedAt
		s.LastUsedAt = &t
	}
	return true, nil
}

func (r *MemoryRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revokeWhere(func(s *Session) bool { return s.UserID == userID }), nil
}

func (r *MemoryRepository) RevokeForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	return r.revokeWhere(func(s *Session) bool { return s.UserID == userID && s.DeviceID == deviceID }), nil
}

func (r *MemoryRepository) revokeWhere(match func(*Session) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byHash {
		if !s.Revoked && match(s) {
			s.Revoked = true
			n++
		}
	}
	return n
}

func (r *MemoryRepository) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, s := range r.byHash {
		if s.purgeable(now) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}
