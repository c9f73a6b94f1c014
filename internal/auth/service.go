package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Mailer delivers a notification out of band.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *shared.SessionManager
	tokens   *Tokens
	otp      *OTPStore
	mailer   Mailer
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionManager, tokens *Tokens, otp *OTPStore, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, tokens: tokens, otp: otp, mailer: mailer, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !account.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// Login verifies credentials, opens a session and issues a bearer token for it.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Start(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	token, expires, err := s.tokens.Issue(account.ID, sess.ID)
	if err != nil {
		_ = s.sessions.Destroy(ctx, sess)
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: expires, User: account.me()}, nil
}

// Resolve validates a bearer token and returns its live session.
func (s *Service) Resolve(ctx context.Context, raw string) (*shared.Session, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Load(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}
	return sess, nil
}

// Logout revokes the session behind the current token.
func (s *Service) Logout(ctx context.Context, sess *shared.Session) error {
	return s.sessions.Destroy(ctx, sess)
}

// Me returns the profile of userID.
func (s *Service) Me(ctx context.Context, userID int64) (Me, error) {
	account, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return Me{}, err
	}
	return account.me(), nil
}

// SendResetCode mails a one-time code to username. Unknown or inactive
// accounts get the same silent success so the endpoint cannot enumerate users.
func (s *Service) SendResetCode(ctx context.Context, username string) error {
	account, err := s.repo.FindByEmail(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if !account.Active {
		return nil
	}
	code, err := s.otp.Issue(ctx, account.Email)
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	body := fmt.Sprintf("Hello %s,\n\nYour Team Access Manager verification code is %s. It expires in %d minutes.\n",
		account.Name, code, int(s.otp.ttl.Minutes()))
	if err := s.mailer.SendMail(ctx, account.Email, "Your password reset code", body); err != nil {
		return fmt.Errorf("queue reset mail: %w", err)
	}
	return nil
}

// VerifyResetCode checks a code previously sent to username.
func (s *Service) VerifyResetCode(ctx context.Context, username, code string) error {
	return s.otp.Verify(ctx, username, code)
}

// ResetPassword sets a new password once the code was verified and revokes
// every open session of the account.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword string) error {
	account, err := s.repo.FindByEmail(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrOTPNotVerified
		}
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.otp.Consume(ctx, account.Email); err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}
	if err := s.sessions.DestroyUser(ctx, account.ID); err != nil {
		s.logger.Warn("revoke sessions after reset", slog.Int64("user_id", account.ID), slog.Any("error", err))
	}
	return nil
}
