package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/metrics"
)

// enforceCapacity makes room for one more session: when the user already has
// MaxSessions or more active sessions, the oldest are revoked until exactly
// MaxSessions-1 remain. Concurrent creates may transiently overshoot; the next
// create trims again.
func (s *Service) enforceCapacity(ctx context.Context, userID string, now time.Time) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	unrevoked, err := s.repo.ListUnrevoked(ctx, userID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	active := make([]*Session, 0, len(unrevoked))
	for _, sess := range unrevoked {
		if sess.Active(now) {
			active = append(active, sess)
		}
	}
	excess := len(active) - s.cfg.MaxSessions + 1
	for i := 0; i < excess; i++ {
		victim := active[i]
		ok, err := s.repo.Revoke(ctx, victim.TokenHash, nil)
		if err != nil {
			return fmt.Errorf("evict session %s: %w", victim.ID, err)
		}
		if ok {
			metrics.SessionsEvicted.Inc()
			logger.Info().Str("user_id", userID).Str("session_id", victim.ID).Str("device_id", victim.DeviceID).
				Msg("session evicted: concurrent session limit reached")
		}
	}
	return nil
}
