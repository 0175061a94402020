// Package users manages accounts and email verification.
package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/blockscope/explorer/internal/app/domain/notification"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	appmail "github.com/blockscope/explorer/internal/app/mail"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// ErrInvalidCredentials is returned when email or password do not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrCodeExpired is returned when a verification code exists but is past its
// expiry window.
var ErrCodeExpired = errors.New("verification code expired")

const codeTTL = 15 * time.Minute

// Service manages user records, login and email verification.
type Service struct {
	store         storage.UserStore
	wallets       storage.WalletStore
	notifications storage.NotificationStore
	sender        appmail.Sender
	log           *logger.Logger
}

// New constructs a user service.
func New(store storage.UserStore, wallets storage.WalletStore, notifications storage.NotificationStore, sender appmail.Sender, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	if sender == nil {
		sender = appmail.NoopSender{Logger: log}
	}
	return &Service{store: store, wallets: wallets, notifications: notifications, sender: sender, log: log}
}

// Register creates an unverified user with a default wallet and sends a
// verification code. Passwords are stored as provided.
func (s *Service) Register(ctx context.Context, username, email, password string) (user.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" {
		return user.User{}, fmt.Errorf("username is required: %w", storage.ErrInvalidArgument)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return user.User{}, fmt.Errorf("invalid email address: %w", storage.ErrInvalidArgument)
	}
	if len(password) < 6 {
		return user.User{}, fmt.Errorf("password must be at least 6 characters: %w", storage.ErrInvalidArgument)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return user.User{}, err
	}

	if s.wallets != nil {
		if _, err := s.wallets.CreateWallet(ctx, wallet.Wallet{UserID: created.ID, Label: "primary"}); err != nil {
			s.log.WithError(err).WithField("user_id", created.ID).Warn("default wallet creation failed")
		}
	}
	if err := s.issueCode(ctx, created); err != nil {
		s.log.WithError(err).WithField("user_id", created.ID).Warn("verification code delivery failed")
	}

	s.log.WithField("user_id", created.ID).WithField("email", created.Email).Info("user registered")
	return created, nil
}

// Login checks email and password and returns the user.
func (s *Service) Login(ctx context.Context, email, password string) (user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrInvalidCredentials
		}
		return user.User{}, err
	}
	if u.Password != password {
		return user.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// RequestVerification issues a fresh code for an existing user.
func (s *Service) RequestVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u.Verified {
		return fmt.Errorf("user already verified: %w", storage.ErrInvalidArgument)
	}
	return s.issueCode(ctx, u)
}

// VerifyEmail checks the code and marks the user verified. Codes older than
// fifteen minutes are rejected.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) (user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	v, err := s.store.GetEmailVerification(ctx, email, strings.TrimSpace(code))
	if err != nil {
		return user.User{}, err
	}
	if v.Expired(time.Now().UTC()) {
		return user.User{}, ErrCodeExpired
	}

	u, err := s.store.GetUser(ctx, v.UserID)
	if err != nil {
		return user.User{}, err
	}
	u.Verified = true
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	if err := s.store.DeleteEmailVerifications(ctx, u.ID); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("verification cleanup failed")
	}
	if s.notifications != nil {
		if _, err := s.notifications.CreateNotification(ctx, notification.Notification{
			UserID:  u.ID,
			Type:    notification.TypeEmail,
			Message: "Email address verified",
		}); err != nil {
			s.log.WithError(err).WithField("user_id", u.ID).Warn("notification failed")
		}
	}

	s.log.WithField("user_id", u.ID).Info("email verified")
	return updated, nil
}

// Notifications returns a user's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.notifications.ListNotifications(ctx, userID)
}

// MarkNotificationRead marks one notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	return s.notifications.MarkNotificationRead(ctx, id)
}

func (s *Service) issueCode(ctx context.Context, u user.User) error {
	code, err := newCode()
	if err != nil {
		return err
	}
	_, err = s.store.CreateEmailVerification(ctx, user.EmailVerification{
		UserID:    u.ID,
		Email:     u.Email,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	})
	if err != nil {
		return err
	}
	// Delivery failures are logged, not surfaced: the code is persisted and
	// the user can request another.
	if err := s.sender.SendVerificationCode(u.Email, code); err != nil {
		s.log.WithError(err).WithField("email", u.Email).Warn("verification email failed")
	}
	return nil
}

// newCode returns a random six digit code, zero padded.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
