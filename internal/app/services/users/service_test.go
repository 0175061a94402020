package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/internal/app/storage/memory"
)

// captureSender records the last code instead of sending mail.
type captureSender struct {
	to   string
	code string
}

func (c *captureSender) SendVerificationCode(to, code string) error {
	c.to = to
	c.code = code
	return nil
}

func setup(t *testing.T) (*Service, *memory.Store, *captureSender) {
	t.Helper()
	store := memory.New()
	sender := &captureSender{}
	return New(store, store, store, sender, nil), store, sender
}

func TestRegisterCreatesWalletAndSendsCode(t *testing.T) {
	svc, store, sender := setup(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "Alice@Example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.Verified {
		t.Fatal("new users must start unverified")
	}

	wallets, err := store.ListWalletsByUser(ctx, u.ID)
	if err != nil || len(wallets) != 1 {
		t.Fatalf("expected one default wallet, got %d (%v)", len(wallets), err)
	}
	if sender.to != u.Email || len(sender.code) != 6 {
		t.Fatalf("expected six digit code sent to %s, got %q to %q", u.Email, sender.code, sender.to)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "a@example.com", "secret1"); err == nil {
		t.Fatal("expected missing username to fail")
	}
	if _, err := svc.Register(ctx, "a", "not-an-email", "secret1"); err == nil {
		t.Fatal("expected invalid email to fail")
	}
	if _, err := svc.Register(ctx, "a", "a@example.com", "short"); err == nil {
		t.Fatal("expected short password to fail")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.Register(ctx, "alice2", "alice@example.com", "secret2")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	svc, _, sender := setup(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	wrong := "000000"
	if sender.code == wrong {
		wrong = "000001"
	}
	if _, err := svc.VerifyEmail(ctx, u.Email, wrong); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong code, got %v", err)
	}

	verified, err := svc.VerifyEmail(ctx, u.Email, sender.code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.Verified {
		t.Fatal("user should be verified")
	}

	// Codes are single use.
	if _, err := svc.VerifyEmail(ctx, u.Email, sender.code); err == nil {
		t.Fatal("expected reused code to fail")
	}
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.DeleteEmailVerifications(ctx, u.ID); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := store.CreateEmailVerification(ctx, user.EmailVerification{
		UserID:    u.ID,
		Email:     u.Email,
		Code:      "123456",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("create verification: %v", err)
	}

	_, err = svc.VerifyEmail(ctx, u.Email, "123456")
	if !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := svc.Login(ctx, "ALICE@example.com", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("logged in as %s, want %s", got.ID, u.ID)
	}

	if _, err := svc.Login(ctx, u.Email, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "missing@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
