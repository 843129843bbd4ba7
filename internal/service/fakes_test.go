package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/model"
)

// =========================================================================
// FAKE REPOSITORIES
// =========================================================================
//
// In-memory implementations of the repository interfaces. They mimic the
// real backends' error contract (NotFound / Conflict) so the service sees
// the same errors it would in production.

type fakeUserRepo struct {
	mu     sync.Mutex
	byID   map[string]*model.User
	nextID int
	// failClear makes ClearOTP return an infrastructure error.
	failClear bool
	// onRead, when set, runs once right after the next GetByEmail has taken
	// its copy, letting a test slip another call in between read and write.
	onRead func()
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]*model.User)}
}

func (m *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return apperror.Conflict("User", "already exists")
		}
	}
	m.nextID++
	user.ID = fmt.Sprintf("user-%d", m.nextID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	m.byID[user.ID] = &stored
	return nil
}

func (m *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (m *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	var found *model.User
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			found = &cp
			break
		}
	}
	hook := m.onRead
	m.onRead = nil
	m.mu.Unlock()

	if found == nil {
		return nil, apperror.NotFoundMessage("User not found")
	}
	if hook != nil {
		hook()
	}
	return found, nil
}

func (m *fakeUserRepo) SetOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.OTP = code
	u.OTPExpiresAt = expiresAt
	return nil
}

func (m *fakeUserRepo) ClearOTP(_ context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClear {
		return errors.New("disk full")
	}
	if u, ok := m.byID[id]; ok && u.OTP != "" && u.OTP == code {
		u.ClearOTP()
	}
	return nil
}

func (m *fakeUserRepo) ConsumeOTP(_ context.Context, id, code string, now time.Time, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok || u.OTP == "" || u.OTP != code || !now.Before(u.OTPExpiresAt) {
		return apperror.InvalidOTP()
	}
	u.PasswordHash = passwordHash
	u.ClearOTP()
	return nil
}

func (m *fakeUserRepo) ClearExpiredOTPs(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.byID {
		if u.OTP != "" && u.OTPExpiresAt.Before(now) {
			u.ClearOTP()
			n++
		}
	}
	return n, nil
}

// stored returns the persisted copy of a user, bypassing the service.
func (m *fakeUserRepo) stored(email string) *model.User {
	u, _ := m.GetByEmail(context.Background(), email)
	return u
}

type fakeTaskRepo struct {
	mu     sync.Mutex
	tasks  map[string]*model.Task
	order  []string
	nextID int
	// failWrites makes Create/Update/Delete return an infrastructure error.
	failWrites bool
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*model.Task)}
}

func (m *fakeTaskRepo) Create(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("connection reset")
	}
	m.nextID++
	task.ID = fmt.Sprintf("task-%d", m.nextID)
	stored := *task
	m.tasks[task.ID] = &stored
	m.order = append(m.order, task.ID)
	return nil
}

func (m *fakeTaskRepo) GetByID(_ context.Context, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperror.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}

func (m *fakeTaskRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Task
	for _, id := range m.order {
		if t, ok := m.tasks[id]; ok && t.UserID == ownerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *fakeTaskRepo) Update(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("connection reset")
	}
	t, ok := m.tasks[task.ID]
	if !ok || t.UserID != task.UserID {
		return apperror.NotFound("task", task.ID)
	}
	stored := *task
	m.tasks[task.ID] = &stored
	return nil
}

func (m *fakeTaskRepo) Delete(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("connection reset")
	}
	t, ok := m.tasks[id]
	if !ok || t.UserID != ownerID {
		return apperror.NotFound("task", id)
	}
	delete(m.tasks, id)
	return nil
}

// =========================================================================
// FAKE MAILER AND METRICS
// =========================================================================

type sentOTP struct {
	to, code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentOTP
	err  error
}

func (f *fakeMailer) SendOTP(_ context.Context, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentOTP{to: to, code: code})
	return nil
}

func (f *fakeMailer) last() sentOTP {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentOTP{}
	}
	return f.sent[len(f.sent)-1]
}

// countingRecorder counts the events the services report.
type countingRecorder struct {
	registrations   int
	loginOK         int
	loginFailed     int
	otpIssued       int
	resetOK         int
	resetFailed     int
	taskOps         map[string]int
	ownershipDenied int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{taskOps: make(map[string]int)}
}

func (c *countingRecorder) RecordRegistration() { c.registrations++ }
func (c *countingRecorder) RecordLogin(ok bool) {
	if ok {
		c.loginOK++
	} else {
		c.loginFailed++
	}
}
func (c *countingRecorder) RecordOTPIssued() { c.otpIssued++ }
func (c *countingRecorder) RecordPasswordReset(ok bool) {
	if ok {
		c.resetOK++
	} else {
		c.resetFailed++
	}
}
func (c *countingRecorder) RecordTaskOp(op string)              { c.taskOps[op]++ }
func (c *countingRecorder) RecordOwnershipDenied()              { c.ownershipDenied++ }
func (c *countingRecorder) RecordHTTPStatus(int)                {}
func (c *countingRecorder) RecordRequestDuration(time.Duration) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
