package sqlite

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

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the SQLite-backed credential store.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, username, email, password_hash, otp, otp_expires_at, created_at, updated_at`

// Create inserts a new user, assigning its ID and timestamps.
//
// The UNIQUE constraint on email is what actually enforces "one account per
// address": a duplicate surfaces as apperror.ErrConflict.
func (db *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.OTP,
		nullTime(user.OTPExpiresAt),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("User", "already exists")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by their (already normalised) email address.
func (db *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("User not found")
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// SetOTP stores a pending reset code. Only the otp columns are touched so a
// concurrent password change is never overwritten.
func (db *UserDB) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET otp = ?, otp_expires_at = ?, updated_at = ? WHERE id = ?`,
		code,
		nullTime(expiresAt),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing otp for user %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// ClearOTP drops the pending code if it is still the given one.
func (db *UserDB) ClearOTP(ctx context.Context, id, code string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET otp = '', otp_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND otp = ? AND otp != ''`,
		time.Now().UTC(),
		id,
		code,
	)
	if err != nil {
		return fmt.Errorf("sqlite: clearing otp for user %s: %w", id, err)
	}
	return nil
}

// ConsumeOTP swaps in the new password hash and clears the code in one
// statement. The WHERE clause is the single-use check: once one caller has
// consumed the code, every later attempt matches zero rows.
func (db *UserDB) ConsumeOTP(ctx context.Context, id, code string, now time.Time, passwordHash string) error {
	now = now.UTC()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = ?, otp = '', otp_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND otp = ? AND otp != '' AND otp_expires_at > ?`,
		passwordHash,
		now,
		id,
		code,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: consuming otp for user %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.InvalidOTP()
	}
	return nil
}

// ClearExpiredOTPs drops pending reset codes whose expiry is before now.
//
// Times are always written in UTC, so the TEXT comparison SQLite performs on
// DATETIME columns orders them correctly.
func (db *UserDB) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET otp = '', otp_expires_at = NULL
		 WHERE otp != '' AND otp_expires_at IS NOT NULL AND otp_expires_at < ?`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: clearing expired otps: %w", err)
	}
	return result.RowsAffected()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.OTP,
		&expiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		u.OTPExpiresAt = expiresAt.Time
	}
	return &u, nil
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
