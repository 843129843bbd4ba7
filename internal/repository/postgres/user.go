package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the PostgreSQL-backed credential store.
type UserDB struct {
	conn *sql.DB
}

func (r *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	query :=
		`INSERT INTO users (id, username, email, password_hash, otp, otp_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.conn.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.OTP, nullTime(user.OTPExpiresAt), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("User", "already exists")
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (r *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	query :=
		`SELECT id, username, email, password_hash, otp, otp_expires_at, created_at, updated_at
		 FROM users WHERE id = $1`

	u, err := scanUser(r.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return u, nil
}

func (r *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query :=
		`SELECT id, username, email, password_hash, otp, otp_expires_at, created_at, updated_at
		 FROM users WHERE email = $1`

	u, err := scanUser(r.conn.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("User not found")
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}

func (r *UserDB) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	query :=
		`UPDATE users SET otp = $1, otp_expires_at = $2, updated_at = $3 WHERE id = $4`

	result, err := r.conn.ExecContext(ctx, query,
		code, nullTime(expiresAt), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: storing otp for user %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (r *UserDB) ClearOTP(ctx context.Context, id, code string) error {
	query :=
		`UPDATE users SET otp = '', otp_expires_at = NULL, updated_at = $1
		 WHERE id = $2 AND otp = $3 AND otp <> ''`

	if _, err := r.conn.ExecContext(ctx, query, time.Now().UTC(), id, code); err != nil {
		return fmt.Errorf("postgres: clearing otp for user %s: %w", id, err)
	}
	return nil
}

// ConsumeOTP is a single conditional UPDATE; only one concurrent caller can
// match the pending code.
func (r *UserDB) ConsumeOTP(ctx context.Context, id, code string, now time.Time, passwordHash string) error {
	query :=
		`UPDATE users
		 SET password_hash = $1, otp = '', otp_expires_at = NULL, updated_at = $2
		 WHERE id = $3 AND otp = $4 AND otp <> '' AND otp_expires_at > $5`

	now = now.UTC()
	result, err := r.conn.ExecContext(ctx, query, passwordHash, now, id, code, now)
	if err != nil {
		return fmt.Errorf("postgres: consuming otp for user %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.InvalidOTP()
	}
	return nil
}

func (r *UserDB) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`UPDATE users SET otp = '', otp_expires_at = NULL
		 WHERE otp <> '' AND otp_expires_at < $1`

	result, err := r.conn.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: clearing expired otps: %w", err)
	}
	return result.RowsAffected()
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u         model.User
		expiresAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.OTP, &expiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		u.OTPExpiresAt = expiresAt.Time
	}
	return &u, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
