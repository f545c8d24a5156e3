package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const TypeRefreshTokenReuse = "refresh_token_reuse"

// SecurityEvent is emitted when the session core suspects credential theft.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	DeviceID  string    `json:"deviceId"`
	SourceIP  string    `json:"sourceIp"`
	UserAgent string    `json:"userAgent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(typ string, at time.Time) SecurityEvent {
	return SecurityEvent{ID: uuid.NewString(), Type: typ, Timestamp: at.UTC()}
}

// Sink delivers security events. Delivery is best effort; callers log
// errors and carry on.
type Sink interface {
	Emit(ctx context.Context, ev SecurityEvent) error
}
