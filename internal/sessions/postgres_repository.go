package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gogotex/sessionguard/internal/database"
)

const (
	pgUniqueViolation         = "23505"
	activeDeviceIndexPostgres = "uq_refresh_sessions_active_device"
)

// PostgresRepository stores sessions in the refresh_sessions table over
// database.DBTX (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db database.DBTX
}

func NewPostgresRepository(db database.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, user_email, token_hash, device_id, user_agent, source_ip,
		issued_at, expires_at, last_used_at, revoked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s        Session
		lastUsed sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.UserEmail, &s.TokenHash, &s.DeviceID, &s.UserAgent,
		&s.SourceIP, &s.IssuedAt, &s.ExpiresAt, &lastUsed, &s.Revoked); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		s.LastUsedAt = &t
	}
	return &s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO refresh_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var lastUsed sql.NullTime
	if s.LastUsedAt != nil {
		lastUsed = sql.NullTime{Time: *s.LastUsedAt, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.UserEmail, s.TokenHash, s.DeviceID,
		s.UserAgent, s.SourceIP, s.IssuedAt, s.ExpiresAt, lastUsed, s.Revoked); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeDeviceIndexPostgres {
			return ErrActiveDeviceSession
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM refresh_sessions
		WHERE token_hash = $1
	`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListUnrevoked(ctx context.Context, userID string) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM refresh_sessions
		WHERE user_id = $1 AND revoked = FALSE
		ORDER BY issued_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Revoke is a conditional update; exactly one concurrent caller sees one row affected.
func (r *PostgresRepository) Revoke(ctx context.Context, tokenHash string, usedAt *time.Time) (bool, error) {
	query := `
		UPDATE refresh_sessions
		SET revoked = TRUE, last_used_at = COALESCE($2, last_used_at)
		WHERE token_hash = $1 AND revoked = FALSE
	`
	var used sql.NullTime
	if usedAt != nil {
		used = sql.NullTime{Time: *usedAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, tokenHash, used)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_sessions
		SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
	`
	return r.execCount(ctx, query, userID)
}

func (r *PostgresRepository) RevokeForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	query := `
		UPDATE refresh_sessions
		SET revoked = TRUE
		WHERE user_id = $1 AND device_id = $2 AND revoked = FALSE
	`
	return r.execCount(ctx, query, userID, deviceID)
}

func (r *PostgresRepository) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_sessions
		WHERE expires_at < $1 OR revoked = TRUE
	`
	return r.execCount(ctx, query, now)
}

func (r *PostgresRepository) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
