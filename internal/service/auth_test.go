package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/auth"
)

const testSecret = "test-secret-at-least-16"

type authFixture struct {
	svc    *AuthService
	users  *fakeUserRepo
	mail   *fakeMailer
	rec    *countingRecorder
	tokens *auth.TokenService
	clock  time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	f := &authFixture{
		users:  newFakeUserRepo(),
		mail:   &fakeMailer{},
		rec:    newCountingRecorder(),
		tokens: tokens,
		clock:  time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAuthService(f.users, tokens, auth.NewPasswordServiceForTest(bcrypt.MinCost),
		f.mail, f.rec, 10*time.Minute, testLogger())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *authFixture) register(t *testing.T) {
	t.Helper()
	if _, err := f.svc.Register(context.Background(), "alice", "a@x.com", "pw123456"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister_Success(t *testing.T) {
	f := newAuthFixture(t)

	user, err := f.svc.Register(context.Background(), "  alice ", " A@X.com ", "pw123456")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == "" {
		t.Error("expected user to have an ID")
	}
	if user.Username != "alice" || user.Email != "a@x.com" {
		t.Errorf("user = %+v, want trimmed username and lower-cased email", user)
	}
	if user.PasswordHash == "" || user.PasswordHash == "pw123456" {
		t.Errorf("password was not hashed: %q", user.PasswordHash)
	}
	if f.rec.registrations != 1 {
		t.Errorf("registrations = %d, want 1", f.rec.registrations)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	_, err := f.svc.Register(context.Background(), "alice2", "A@x.com", "another-pass")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if err.Error() != "User already exists" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		email    string
		password string
		field    string
	}{
		{"missing username", "  ", "a@x.com", "pw123456", "username"},
		{"long username", strings.Repeat("u", MaxUsernameLength+1), "a@x.com", "pw123456", "username"},
		{"missing email", "alice", "", "pw123456", "email"},
		{"bad email", "alice", "not-an-email", "pw123456", "email"},
		{"display name email", "alice", "Alice <a@x.com>", "pw123456", "email"},
		{"short password", "alice", "a@x.com", "short", "password"},
		{"long password", "alice", "a@x.com", strings.Repeat("p", auth.MaxPasswordBytes+1), "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)

			_, err := f.svc.Register(context.Background(), tt.username, tt.email, tt.password)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != tt.field {
				t.Errorf("field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	res, err := f.svc.Login(context.Background(), "A@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.Username != "alice" {
		t.Errorf("Username = %q, want alice", res.User.Username)
	}

	userID, err := f.tokens.Validate(res.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if userID != res.User.ID {
		t.Errorf("token subject = %q, want %q", userID, res.User.ID)
	}
	if f.rec.loginOK != 1 {
		t.Errorf("loginOK = %d, want 1", f.rec.loginOK)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "ghost@x.com", "pw123456")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err.Error() != "User not found" {
		t.Errorf("message = %q", err.Error())
	}
	if f.rec.loginFailed != 1 {
		t.Errorf("loginFailed = %d, want 1", f.rec.loginFailed)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	_, err := f.svc.Login(context.Background(), "a@x.com", "wrong-password")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if err.Error() != "Invalid credentials" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestLogin_MissingPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "a@x.com", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

func TestRequestReset_StoresAndMailsCode(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	if err := f.svc.RequestReset(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}

	sent := f.mail.last()
	if sent.to != "a@x.com" || len(sent.code) != 4 {
		t.Fatalf("sent = %+v, want 4-digit code to a@x.com", sent)
	}

	u := f.users.stored("a@x.com")
	if u.OTP != sent.code {
		t.Errorf("stored OTP = %q, mailed %q", u.OTP, sent.code)
	}
	if want := f.clock.Add(10 * time.Minute); !u.OTPExpiresAt.Equal(want) {
		t.Errorf("OTPExpiresAt = %v, want %v", u.OTPExpiresAt, want)
	}
	if f.rec.otpIssued != 1 {
		t.Errorf("otpIssued = %d, want 1", f.rec.otpIssued)
	}
}

func TestRequestReset_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	err := f.svc.RequestReset(context.Background(), "ghost@x.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(f.mail.sent) != 0 {
		t.Error("no mail should be sent for an unknown address")
	}
}

func TestRequestReset_MailFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	f.mail.err = errors.New("relay refused")

	err := f.svc.RequestReset(context.Background(), "a@x.com")
	if err == nil {
		t.Fatal("expected error when the mail can't be sent")
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		t.Errorf("mail failure should be an internal error, got %v", appErr)
	}
	if f.users.stored("a@x.com").HasPendingReset() {
		t.Error("undelivered code should be withdrawn")
	}
	if f.rec.otpIssued != 0 {
		t.Errorf("otpIssued = %d, want 0", f.rec.otpIssued)
	}
}

func TestRequestReset_MailFailureKeepsMailError(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	f.mail.err = errors.New("relay refused")
	f.users.failClear = true

	err := f.svc.RequestReset(context.Background(), "a@x.com")
	if err == nil || !strings.Contains(err.Error(), "relay refused") {
		t.Fatalf("error = %v, want the mail error", err)
	}
}

func TestRequestReset_DoesNotUndoConcurrentReset(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	code := f.mail.last().code

	// A second request reads the user, then the first code is redeemed
	// before the second request writes its new code.
	var redeemErr error
	f.users.onRead = func() {
		redeemErr = f.svc.CompleteReset(ctx, "a@x.com", code, "new-password")
	}
	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("second RequestReset() error = %v", err)
	}
	if redeemErr != nil {
		t.Fatalf("CompleteReset() error = %v", redeemErr)
	}

	if _, err := f.svc.Login(ctx, "a@x.com", "new-password"); err != nil {
		t.Errorf("login with new password failed: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "pw123456"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("old password works again: %v", err)
	}
	if got := f.users.stored("a@x.com").OTP; got != f.mail.last().code {
		t.Errorf("stored OTP = %q, want the second code %q", got, f.mail.last().code)
	}
}

func TestCompleteReset_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	code := f.mail.last().code

	if err := f.svc.CompleteReset(ctx, "a@x.com", code, "new-password"); err != nil {
		t.Fatalf("CompleteReset() error = %v", err)
	}

	if u := f.users.stored("a@x.com"); u.HasPendingReset() || !u.OTPExpiresAt.IsZero() {
		t.Errorf("reset code not cleared: %+v", u)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "new-password"); err != nil {
		t.Errorf("login with new password failed: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "pw123456"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("old password still works: %v", err)
	}

	// The code is single-use.
	err := f.svc.CompleteReset(ctx, "a@x.com", code, "third-password")
	if !errors.Is(err, apperror.ErrInvalidOTP) {
		t.Errorf("reuse error = %v, want ErrInvalidOTP", err)
	}
	if f.rec.resetOK != 1 || f.rec.resetFailed != 1 {
		t.Errorf("resets ok/failed = %d/%d, want 1/1", f.rec.resetOK, f.rec.resetFailed)
	}
}

func TestCompleteReset_ConcurrentRedeemSucceedsOnce(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	code := f.mail.last().code

	// Both calls see the pending code; the inner one writes first.
	var innerErr error
	f.users.onRead = func() {
		innerErr = f.svc.CompleteReset(ctx, "a@x.com", code, "inner-password")
	}
	outerErr := f.svc.CompleteReset(ctx, "a@x.com", code, "outer-password")

	if innerErr != nil {
		t.Fatalf("first redeem error = %v", innerErr)
	}
	if !errors.Is(outerErr, apperror.ErrInvalidOTP) {
		t.Fatalf("second redeem error = %v, want ErrInvalidOTP", outerErr)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "inner-password"); err != nil {
		t.Errorf("login with first new password failed: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@x.com", "outer-password"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("second password was applied: %v", err)
	}
	if f.rec.resetOK != 1 || f.rec.resetFailed != 1 {
		t.Errorf("resets ok/failed = %d/%d, want 1/1", f.rec.resetOK, f.rec.resetFailed)
	}
}

func TestCompleteReset_NeverIssued(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	err := f.svc.CompleteReset(context.Background(), "a@x.com", "1234", "new-password")
	if !errors.Is(err, apperror.ErrInvalidOTP) {
		t.Fatalf("error = %v, want ErrInvalidOTP", err)
	}
}

func TestCompleteReset_WrongCode(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	code := f.mail.last().code
	wrong := "0000"
	if code == wrong {
		wrong = "0001"
	}

	err := f.svc.CompleteReset(ctx, "a@x.com", wrong, "new-password")
	if !errors.Is(err, apperror.ErrInvalidOTP) {
		t.Fatalf("error = %v, want ErrInvalidOTP", err)
	}
	// A wrong guess leaves the real code usable.
	if !f.users.stored("a@x.com").HasPendingReset() {
		t.Error("pending code should survive a wrong guess")
	}
}

func TestCompleteReset_CodeForAnotherUser(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, "bob", "b@x.com", "pw123456"); err != nil {
		t.Fatalf("Register(bob) error = %v", err)
	}

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	aliceCode := f.mail.last().code

	err := f.svc.CompleteReset(ctx, "b@x.com", aliceCode, "new-password")
	if !errors.Is(err, apperror.ErrInvalidOTP) {
		t.Fatalf("error = %v, want ErrInvalidOTP", err)
	}
}

func TestCompleteReset_Expired(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	code := f.mail.last().code

	f.clock = f.clock.Add(10 * time.Minute)

	err := f.svc.CompleteReset(ctx, "a@x.com", code, "new-password")
	if !errors.Is(err, apperror.ErrInvalidOTP) {
		t.Fatalf("error = %v, want ErrInvalidOTP", err)
	}
	if f.users.stored("a@x.com").HasPendingReset() {
		t.Error("expired code should be cleared")
	}
}

func TestCompleteReset_NewCodeReplacesOld(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("second RequestReset() error = %v", err)
	}
	latest := f.mail.last().code

	if got := f.users.stored("a@x.com").OTP; got != latest {
		t.Fatalf("stored OTP = %q, want latest %q", got, latest)
	}
	if err := f.svc.CompleteReset(ctx, "a@x.com", latest, "new-password"); err != nil {
		t.Fatalf("CompleteReset() with latest code error = %v", err)
	}
}

func TestCompleteReset_Validation(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	tests := []struct {
		name  string
		otp   string
		pass  string
		field string
	}{
		{"missing otp", " ", "new-password", "otp"},
		{"short password", "1234", "short", "newPassword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.CompleteReset(context.Background(), "a@x.com", tt.otp, tt.pass)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestPasswordLengthBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"one under minimum", strings.Repeat("p", auth.MinPasswordLength-1), true},
		{"minimum", strings.Repeat("p", auth.MinPasswordLength), false},
		{"maximum", strings.Repeat("p", auth.MaxPasswordBytes), false},
		{"one over maximum", strings.Repeat("p", auth.MaxPasswordBytes+1), true},
	}

	for _, tt := range tests {
		t.Run("register/"+tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			_, err := f.svc.Register(context.Background(), "alice", "a@x.com", tt.password)
			if tt.wantErr != errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Register() error = %v", err)
			}
		})

		t.Run("reset/"+tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.register(t)
			ctx := context.Background()
			if err := f.svc.RequestReset(ctx, "a@x.com"); err != nil {
				t.Fatalf("RequestReset() error = %v", err)
			}

			err := f.svc.CompleteReset(ctx, "a@x.com", f.mail.last().code, tt.password)
			if tt.wantErr {
				if !errors.Is(err, apperror.ErrValidation) {
					t.Fatalf("CompleteReset() error = %v, want ErrValidation", err)
				}
				if !f.users.stored("a@x.com").HasPendingReset() {
					t.Error("a rejected password must not consume the code")
				}
				return
			}
			if err != nil {
				t.Fatalf("CompleteReset() error = %v", err)
			}
			if _, err := f.svc.Login(ctx, "a@x.com", tt.password); err != nil {
				t.Errorf("login with reset password failed: %v", err)
			}
		})
	}
}

func TestCompleteReset_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	err := f.svc.CompleteReset(context.Background(), "ghost@x.com", "1234", "new-password")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// ME
// =========================================================================

func TestMe(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	id := f.users.stored("a@x.com").ID
	u, err := f.svc.Me(ctx, id)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if u.Email != "a@x.com" {
		t.Errorf("Email = %q", u.Email)
	}

	if _, err := f.svc.Me(ctx, "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Me(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.Me(ctx, ""); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Me(\"\") error = %v, want ErrUnauthorized", err)
	}
}
