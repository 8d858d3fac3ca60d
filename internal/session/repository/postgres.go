package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"refreshguard/internal/session/domain"
)

const sessionColumns = `fingerprint, user_id, expires_at, created_at, created_by_ip, user_agent, revoked_at, successor_fingerprint`

const uniqueViolation = "23505"

// PostgresRepository stores sessions in the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts s. A unique violation on fingerprint becomes ErrDuplicateFingerprint.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	return insertSession(ctx, r.db, s)
}

func insertSession(ctx context.Context, q execer, s *domain.Session) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.Fingerprint, s.UserID, s.ExpiresAt, s.CreatedAt,
		nullString(s.CreatedByIP), nullString(s.UserAgent),
		timeToNullTime(s.RevokedAt), nullString(s.SuccessorFingerprint),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateFingerprint
	}
	return err
}

// FindActiveByFingerprint returns the session if it is not revoked and expires after now.
func (r *PostgresRepository) FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE fingerprint = $1 AND revoked_at IS NULL AND expires_at > $2`,
		fingerprint, now)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// claimQuery is the single conditional update that decides a rotation race.
const claimQuery = `UPDATE sessions
	SET revoked_at = $3, successor_fingerprint = NULLIF($2, '')
	WHERE fingerprint = $1 AND revoked_at IS NULL AND expires_at > $3
	RETURNING ` + sessionColumns

// ClaimAndRevoke runs claimQuery. When no row changes, classifyUnclaimed decides
// between ErrNotFound and ErrAlreadyClaimed.
func (r *PostgresRepository) ClaimAndRevoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, claimQuery, fingerprint, successorFP, now))
	if errors.Is(err, sql.ErrNoRows) {
		return r.classifyUnclaimed(ctx, fingerprint, now)
	}
	return s, err
}

// ClaimAndReplace claims fingerprint and inserts next in one transaction.
func (r *PostgresRepository) ClaimAndReplace(ctx context.Context, fingerprint string, next *domain.Session, now time.Time) (*domain.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	claimed, err := scanSession(tx.QueryRowContext(ctx, claimQuery, fingerprint, next.Fingerprint, now))
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return r.classifyUnclaimed(ctx, fingerprint, now)
	}
	if err != nil {
		return nil, err
	}
	if err := insertSession(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return claimed, nil
}

// classifyUnclaimed explains why a claim updated no row.
func (r *PostgresRepository) classifyUnclaimed(ctx context.Context, fingerprint string, now time.Time) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE fingerprint = $1`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.State(now) == domain.StateExpired {
		return nil, ErrNotFound
	}
	return s, ErrAlreadyClaimed
}

// Revoke sets revoked_at on a session that is not yet revoked. It reports
// whether a row was updated.
func (r *PostgresRepository) Revoke(ctx context.Context, fingerprint, successorFP string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $3, successor_fingerprint = NULLIF($2, '')
		 WHERE fingerprint = $1 AND revoked_at IS NULL`,
		fingerprint, successorFP, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeAllForUser revokes the user's sessions that are not yet revoked and returns the row count.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActiveByUser returns the user's active sessions ordered newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		 ORDER BY created_at DESC, fingerprint`,
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		s                 domain.Session
		ip, ua, successor sql.NullString
		revokedAt         sql.NullTime
	)
	if err := row.Scan(&s.Fingerprint, &s.UserID, &s.ExpiresAt, &s.CreatedAt, &ip, &ua, &revokedAt, &successor); err != nil {
		return nil, err
	}
	s.CreatedByIP = ip.String
	s.UserAgent = ua.String
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.SuccessorFingerprint = successor.String
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
