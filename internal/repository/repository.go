// Package repository declares the storage contracts the service layer depends on.
//
// Three backends implement them: sqlite (embedded, the default), postgres and
// mongo. Each one translates its own "no row"/"duplicate key" signals into
// apperror.NotFound / apperror.Conflict so services never see driver errors.
package repository

import (
	"context"
	"time"

	"github.com/sakif/todo-api/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create inserts a new user, assigning ID and timestamps.
	// Returns apperror.ErrConflict if the email is already registered.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// SetOTP stores a pending reset code, replacing any code already pending.
	// Only the otp columns are written. Returns apperror.ErrNotFound for an
	// unknown id.
	SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	// ClearOTP drops the pending code only if it still equals code, so a
	// newer code issued in the meantime survives. Clearing nothing is not an
	// error.
	ClearOTP(ctx context.Context, id, code string) error
	// ConsumeOTP replaces the password hash and clears the pending code in a
	// single conditional write that matches only while code is pending and
	// unexpired at now. Returns apperror.ErrInvalidOTP when nothing matched,
	// so a code can be redeemed at most once.
	ConsumeOTP(ctx context.Context, id, code string, now time.Time, passwordHash string) error
	// ClearExpiredOTPs drops every pending reset code that expired before now
	// and returns how many users were affected.
	ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// TaskRepository is the task store. Mutations are always scoped by owner:
// a task whose user_id differs from ownerID behaves as if it did not exist.
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	GetByID(ctx context.Context, id string) (*model.Task, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Task, error)
	Update(ctx context.Context, task *model.Task) error
	Delete(ctx context.Context, id, ownerID string) error
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
