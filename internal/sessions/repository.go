package sessions

import (
	"context"
	"time"
)

// Repository provides session persistence operations.
//
// Lookups return (nil, nil) when nothing matches. Revoke* methods only touch
// unrevoked records, so calling them twice is harmless.
type Repository interface {
	// Create inserts s. At most one unrevoked session may exist per
	// (UserID, DeviceID); a store either supersedes the older one atomically
	// or fails with ErrActiveDeviceSession.
	Create(ctx context.Context, s *Session) error
	// GetByTokenHash finds a session regardless of its revoked flag.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// ListUnrevoked returns the user's unrevoked sessions ordered by (IssuedAt, ID).
	ListUnrevoked(ctx context.Context, userID string) ([]*Session, error)
	// Revoke flips revoked false -> true atomically and reports whether this
	// call performed the flip. usedAt, when set, is stored as LastUsedAt.
	Revoke(ctx context.Context, tokenHash string, usedAt *time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	RevokeForDevice(ctx context.Context, userID, deviceID string) (int64, error)
	// DeleteExpiredOrRevoked hard-deletes records with expiresAt < now or revoked.
	DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error)
}
