package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/sessionguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidAccessToken wraps every verification failure.
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrExpired            = errors.New("token expired")
	ErrMalformed          = errors.New("malformed token")
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Signer issues and verifies short-lived HS256 access tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSigner returns a Signer. The secret must be at least MinSecretLength bytes.
func NewSigner(secret string, ttl time.Duration, issuer string) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	return &Signer{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock replaces the time source (tests).
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

func (s *Signer) TTL() time.Duration { return s.ttl }

// IssueAccessToken creates a signed JWT access token for the identity.
func (s *Signer) IssueAccessToken(id models.Identity) (string, time.Time, error) {
	if id.ID == "" {
		return "", time.Time{}, errors.New("identity id is required")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := AccessClaims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm and expiry and returns the embedded identity.
func (s *Signer) Verify(token string) (models.Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// Claims is like Verify but returns the full claim set (the logout path needs exp).
func (s *Signer) Claims(token string) (*AccessClaims, error) {
	return s.parse(token)
}

func (s *Signer) parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, ErrExpired)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, ErrInvalidSignature)
		default:
			return nil, fmt.Errorf("%w: %w: %v", ErrInvalidAccessToken, ErrMalformed, err)
		}
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, ErrMalformed)
	}
	return claims, nil
}
