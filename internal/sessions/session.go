package sessions

import "time"

// Session is a persisted refresh session. The plaintext refresh token is never
// stored; TokenHash is the hex SHA-256 of it.
type Session struct {
	ID         string     `bson:"_id" json:"id"`
	UserID     string     `bson:"userId" json:"userId"`
	UserEmail  string     `bson:"userEmail" json:"userEmail"`
	TokenHash  string     `bson:"tokenHash" json:"tokenHash"`
	DeviceID   string     `bson:"deviceId" json:"deviceId"`
	UserAgent  string     `bson:"userAgent" json:"userAgent"`
	SourceIP   string     `bson:"sourceIp" json:"sourceIp"`
	IssuedAt   time.Time  `bson:"issuedAt" json:"issuedAt"`
	ExpiresAt  time.Time  `bson:"expiresAt" json:"expiresAt"`
	LastUsedAt *time.Time `bson:"lastUsedAt,omitempty" json:"lastUsedAt,omitempty"`
	Revoked    bool       `bson:"revoked" json:"revoked"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Active reports whether the session can still be rotated.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}

// purgeable matches the sweeper predicate: expiresAt < now OR revoked.
func (s *Session) purgeable(now time.Time) bool {
	return s.Revoked || s.ExpiresAt.Before(now)
}

// less orders sessions oldest first; the ULID id breaks IssuedAt ties.
func less(a, b *Session) bool {
	if !a.IssuedAt.Equal(b.IssuedAt) {
		return a.IssuedAt.Before(b.IssuedAt)
	}
	return a.ID < b.ID
}

// DeviceInfo describes the client presenting or receiving a refresh token.
type DeviceInfo struct {
	DeviceID  string
	UserAgent string
	SourceIP  string
}
