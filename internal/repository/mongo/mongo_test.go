package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDB connects to MONGO_TEST_URI and isolates the test in a throwaway
// database. Without the variable the test is skipped.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := "todo_test_" + xid.New().String()
	db, err := New(ctx, uri, name)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.client.Database(name).Drop(context.Background())
		_ = db.Close()
	})
	return db
}

func TestUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := &model.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash"}
	require.NoError(t, db.Users().Create(ctx, u))
	assert.NotEmpty(t, u.ID)

	err := db.Users().Create(ctx, &model.User{Username: "a2", Email: "alice@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := db.Users().GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, got.HasPendingReset())

	_, err = db.Users().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, db.Users().SetOTP(ctx, u.ID, "1234", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, db.Users().SetOTP(ctx, "missing", "1234", time.Now()), apperror.ErrNotFound)

	n, err := db.Users().ClearExpiredOTPs(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.HasPendingReset())
	assert.True(t, got.OTPExpiresAt.IsZero())
}

func TestUsersConsumeOTP(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	u := &model.User{Username: "alice", Email: "alice@example.com", PasswordHash: "old-hash"}
	require.NoError(t, db.Users().Create(ctx, u))

	// An expired code can't be redeemed.
	require.NoError(t, db.Users().SetOTP(ctx, u.ID, "1111", now.Add(-time.Second)))
	assert.ErrorIs(t, db.Users().ConsumeOTP(ctx, u.ID, "1111", now, "x"), apperror.ErrInvalidOTP)

	// A stale clear keeps the newer code.
	require.NoError(t, db.Users().SetOTP(ctx, u.ID, "2222", now.Add(time.Minute)))
	require.NoError(t, db.Users().ClearOTP(ctx, u.ID, "1111"))

	assert.ErrorIs(t, db.Users().ConsumeOTP(ctx, u.ID, "9999", now, "x"), apperror.ErrInvalidOTP)
	require.NoError(t, db.Users().ConsumeOTP(ctx, u.ID, "2222", now, "first-hash"))
	assert.ErrorIs(t, db.Users().ConsumeOTP(ctx, u.ID, "2222", now, "second-hash"), apperror.ErrInvalidOTP)

	got, err := db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "first-hash", got.PasswordHash)
	assert.False(t, got.HasPendingReset())
	assert.True(t, got.OTPExpiresAt.IsZero())

	// Issuing a new code leaves the reset password alone.
	require.NoError(t, db.Users().SetOTP(ctx, u.ID, "3333", now.Add(time.Minute)))
	got, err = db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "first-hash", got.PasswordHash)
	assert.Equal(t, "3333", got.OTP)
}

func TestTasks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := &model.Task{UserID: "alice", Title: "buy milk"}
	require.NoError(t, db.Tasks().Create(ctx, task))
	require.NoError(t, db.Tasks().Create(ctx, &model.Task{UserID: "bob", Title: "bob's"}))

	list, err := db.Tasks().ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "buy milk", list[0].Title)

	hijack := *task
	hijack.UserID = "bob"
	assert.ErrorIs(t, db.Tasks().Update(ctx, &hijack), apperror.ErrNotFound)
	assert.ErrorIs(t, db.Tasks().Delete(ctx, task.ID, "bob"), apperror.ErrNotFound)

	task.Completed = true
	require.NoError(t, db.Tasks().Update(ctx, task))
	got, err := db.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	require.NoError(t, db.Tasks().Delete(ctx, task.ID, "alice"))
	list, err = db.Tasks().ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
}
