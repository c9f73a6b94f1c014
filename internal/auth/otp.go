package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// Password reset errors.
var (
	ErrOTPInvalid     = errors.New("auth: one-time code is invalid or expired")
	ErrOTPNotVerified = errors.New("auth: one-time code has not been verified")
)

const (
	otpDigits      = "0123456789"
	otpLength      = 6
	otpMaxAttempts = 5
)

// OTPStore keeps password-reset codes in Redis. Codes are stored hashed and
// burn after otpMaxAttempts guesses. The attempt counter lives in its own key
// and is bumped with INCR before any comparison, so parallel guesses cannot
// share a count.
type OTPStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOTPStore constructs an OTPStore.
func NewOTPStore(client *redis.Client, ttl time.Duration) *OTPStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OTPStore{client: client, ttl: ttl}
}

// Issue creates a fresh code for username, replacing any previous one.
func (s *OTPStore) Issue(ctx context.Context, username string) (string, error) {
	code, err := randomString(otpDigits, otpLength)
	if err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.codeKey(username), hashed, s.ttl)
	pipe.Del(ctx, s.attemptsKey(username), s.verifiedKey(username))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks code and, on success, marks username as cleared to reset.
// Every call counts as an attempt, including the one that succeeds.
func (s *OTPStore) Verify(ctx context.Context, username, code string) error {
	key := s.codeKey(username)
	hash, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrOTPInvalid
		}
		return err
	}

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, s.attemptsKey(username))
	pipe.Expire(ctx, s.attemptsKey(username), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	attempts := incr.Val()
	if attempts > otpMaxAttempts {
		if err := s.burn(ctx, username); err != nil {
			return err
		}
		return ErrOTPInvalid
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(strings.TrimSpace(code))) != nil {
		if attempts == otpMaxAttempts {
			if err := s.burn(ctx, username); err != nil {
				return err
			}
		}
		return ErrOTPInvalid
	}

	// A concurrent burn may have removed the code after our read.
	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrOTPInvalid
	}
	pipe = s.client.TxPipeline()
	pipe.Del(ctx, s.attemptsKey(username))
	pipe.Set(ctx, s.verifiedKey(username), "1", s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// burn drops the code. The attempts key is left to expire on its own.
func (s *OTPStore) burn(ctx context.Context, username string) error {
	return s.client.Del(ctx, s.codeKey(username)).Err()
}

// Consume clears the verified marker, failing if it was never set.
func (s *OTPStore) Consume(ctx context.Context, username string) error {
	n, err := s.client.Del(ctx, s.verifiedKey(username)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOTPNotVerified
	}
	return nil
}

func (s *OTPStore) codeKey(username string) string {
	return "tam:otp:" + strings.ToLower(strings.TrimSpace(username))
}

func (s *OTPStore) attemptsKey(username string) string {
	return "tam:otp-attempts:" + strings.ToLower(strings.TrimSpace(username))
}

func (s *OTPStore) verifiedKey(username string) string {
	return "tam:otp-verified:" + strings.ToLower(strings.TrimSpace(username))
}
