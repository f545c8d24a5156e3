package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gogotex/sessionguard/internal/audit"
	"github.com/gogotex/sessionguard/internal/models"
	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/metrics"
)

const (
	DefaultMaxSessions = 5
	DefaultRefreshTTL  = 7 * 24 * time.Hour
	// DefaultDeviceID is used when the client does not send a device id.
	DefaultDeviceID = "default"

	// createAttempts bounds revoke-and-insert retries when a concurrent
	// login for the same device holds the slot.
	createAttempts = 3
)

type Config struct {
	RefreshTTL  time.Duration
	MaxSessions int
	// StrictDeviceBinding rejects a rotation presented from a device other
	// than the one the session was issued to. Otherwise it is only logged.
	StrictDeviceBinding bool
}

// Issued is a freshly created session plus the plaintext refresh token.
// The token is not recoverable afterwards.
type Issued struct {
	Session      *Session
	RefreshToken string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEventSink sets where theft detections are reported.
func WithEventSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// Service implements refresh session issuance, rotation with reuse
// detection, capacity limits and revocation on top of a Repository.
type Service struct {
	repo Repository
	cfg  Config
	now  func() time.Time
	sink audit.Sink
}

func NewService(r Repository, cfg Config, opts ...Option) *Service {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	s := &Service{repo: r, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalizeDevice(d DeviceInfo) DeviceInfo {
	if d.DeviceID == "" {
		d.DeviceID = DefaultDeviceID
	}
	return d
}

// Create issues a new refresh session for (identity, device). Any active
// session of the same device is revoked first, then the capacity limit applies.
// A concurrent create for the same device that wins the slot is superseded
// by retrying the revoke and insert.
func (s *Service) Create(ctx context.Context, id models.Identity, dev DeviceInfo) (*Issued, error) {
	if id.ID == "" {
		return nil, errors.New("identity id is required")
	}
	dev = normalizeDevice(dev)
	now := s.now()

	plain, hash, err := newOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	sess := &Session{
		ID:        ulid.Make().String(),
		UserID:    id.ID,
		UserEmail: id.Email,
		TokenHash: hash,
		DeviceID:  dev.DeviceID,
		UserAgent: dev.UserAgent,
		SourceIP:  dev.SourceIP,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	for attempt := 1; ; attempt++ {
		if _, err := s.repo.RevokeForDevice(ctx, id.ID, dev.DeviceID); err != nil {
			return nil, fmt.Errorf("revoke device sessions: %w", err)
		}
		if attempt == 1 {
			if err := s.enforceCapacity(ctx, id.ID, now); err != nil {
				return nil, err
			}
		}
		err := s.repo.Create(ctx, sess)
		if err == nil {
			break
		}
		if errors.Is(err, ErrActiveDeviceSession) && attempt < createAttempts {
			logger.Debugf("session create for user %s device %s raced, retrying", id.ID, dev.DeviceID)
			continue
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Issued{Session: sess, RefreshToken: plain}, nil
}

// Rotate exchanges a presented refresh token for a new session.
//
// Presenting a token that was already revoked (replay, or losing a concurrent
// rotation) revokes every session of the identity and fails with
// ErrTokenReuseDetected.
func (s *Service) Rotate(ctx context.Context, presented string, dev DeviceInfo) (*Issued, error) {
	dev = normalizeDevice(dev)
	if presented == "" {
		metrics.SessionRotations.WithLabelValues(metrics.RotationInvalid).Inc()
		return nil, ErrInvalidToken
	}
	hash := HashToken(presented)
	now := s.now()

	sess, err := s.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		metrics.SessionRotations.WithLabelValues(metrics.RotationInvalid).Inc()
		return nil, ErrInvalidToken
	}
	if sess.Revoked {
		return nil, s.reuseDetected(ctx, sess, dev, now)
	}
	if sess.Expired(now) {
		if _, err := s.repo.Revoke(ctx, hash, nil); err != nil {
			return nil, fmt.Errorf("revoke expired session: %w", err)
		}
		metrics.SessionRotations.WithLabelValues(metrics.RotationExpired).Inc()
		return nil, ErrRefreshTokenExpired
	}
	if sess.DeviceID != dev.DeviceID {
		logger.Warn().Str("user_id", sess.UserID).Str("session_id", sess.ID).
			Str("session_device_id", sess.DeviceID).Str("device_id", dev.DeviceID).
			Str("source_ip", dev.SourceIP).Bool("strict", s.cfg.StrictDeviceBinding).
			Msg("refresh token presented from a different device")
		if s.cfg.StrictDeviceBinding {
			won, err := s.repo.Revoke(ctx, hash, nil)
			if err != nil {
				return nil, fmt.Errorf("revoke mismatched session: %w", err)
			}
			if !won {
				return nil, s.reuseDetected(ctx, sess, dev, now)
			}
			metrics.SessionRotations.WithLabelValues(metrics.RotationMismatch).Inc()
			return nil, ErrDeviceMismatch
		}
	}

	won, err := s.repo.Revoke(ctx, hash, &now)
	if err != nil {
		return nil, fmt.Errorf("revoke rotated session: %w", err)
	}
	if !won {
		// another request rotated this token first
		return nil, s.reuseDetected(ctx, sess, dev, now)
	}

	issued, err := s.Create(ctx, models.Identity{ID: sess.UserID, Email: sess.UserEmail}, dev)
	if err != nil {
		return nil, err
	}
	metrics.SessionRotations.WithLabelValues(metrics.RotationOK).Inc()
	return issued, nil
}

func (s *Service) reuseDetected(ctx context.Context, sess *Session, dev DeviceInfo, now time.Time) error {
	metrics.SessionRotations.WithLabelValues(metrics.RotationReuse).Inc()
	metrics.TheftDetected.Inc()

	n, err := s.repo.RevokeAllForUser(ctx, sess.UserID)
	logger.Warn().Str("user_id", sess.UserID).Str("email", sess.UserEmail).Str("session_id", sess.ID).
		Str("device_id", dev.DeviceID).Str("source_ip", dev.SourceIP).Str("user_agent", dev.UserAgent).
		Int64("revoked", n).Msg("refresh token reuse detected; all sessions revoked")
	if err != nil {
		return fmt.Errorf("revoke sessions after reuse: %w", err)
	}

	if s.sink != nil {
		ev := audit.NewEvent(audit.TypeRefreshTokenReuse, now)
		ev.UserID = sess.UserID
		ev.Email = sess.UserEmail
		ev.DeviceID = dev.DeviceID
		ev.SourceIP = dev.SourceIP
		ev.UserAgent = dev.UserAgent
		if err := s.sink.Emit(ctx, ev); err != nil {
			logger.Errorf("emit security event %s: %v", ev.ID, err)
		}
	}
	return ErrTokenReuseDetected
}

// Lookup returns the session of a plaintext token, or nil when unknown.
func (s *Service) Lookup(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	return s.repo.GetByTokenHash(ctx, HashToken(token))
}

// ListActiveSessions returns the user's unrevoked, unexpired sessions, oldest first.
func (s *Service) ListActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	all, err := s.repo.ListUnrevoked(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*Session, 0, len(all))
	for _, sess := range all {
		if sess.Active(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID)
}

func (s *Service) RevokeSessionsForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	return s.repo.RevokeForDevice(ctx, userID, deviceID)
}

// RevokeSessionByTokenValue revokes a single session. Unknown or already
// revoked tokens are not an error.
func (s *Service) RevokeSessionByTokenValue(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.repo.Revoke(ctx, HashToken(token), nil)
	return err
}

// Sweep hard-deletes sessions that expired before now or were revoked.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpiredOrRevoked(ctx, now)
}
