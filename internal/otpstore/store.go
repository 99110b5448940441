// Package otpstore keeps one-time lesson verification codes in Redis. Codes
// are stored only as bcrypt hashes and expire with their key.
package otpstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	CodeLength  = 6
	MaxAttempts = 5
)

var (
	ErrCooldown        = errors.New("please wait before requesting another code")
	ErrNoChallenge     = errors.New("no active verification code")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrTooManyAttempts = errors.New("too many attempts, request a new code")
)

type Config struct {
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

type Store struct {
	rdb redis.UniversalClient
	cfg Config
}

func New(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttempts
	}
	if cfg.Cost == 0 {
		cfg.Cost = bcrypt.DefaultCost
	}
	return &Store{rdb: rdb, cfg: cfg}
}

func (s *Store) TTL() time.Duration { return s.cfg.TTL }

func challengeKey(userID, lessonID string) string {
	return "otp:challenge:" + userID + ":" + lessonID
}

func cooldownKey(userID, lessonID string) string {
	return "otp:cooldown:" + userID + ":" + lessonID
}

// countAttempt increments the attempt counter only while the challenge
// exists, so an expired key is never recreated without a TTL.
var countAttempt = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

// Issue creates a fresh code for userID on lessonID, replacing any previous
// one. It fails with ErrCooldown inside the resend window.
func (s *Store) Issue(ctx context.Context, userID, lessonID string) (string, error) {
	ok, err := s.rdb.SetNX(ctx, cooldownKey(userID, lessonID), 1, s.cfg.Cooldown).Result()
	if err != nil {
		return "", fmt.Errorf("set cooldown: %w", err)
	}
	if !ok {
		return "", ErrCooldown
	}

	code, err := s.store(ctx, userID, lessonID)
	if err != nil {
		_ = s.Release(context.WithoutCancel(ctx), userID, lessonID)
		return "", err
	}
	return code, nil
}

func (s *Store) store(ctx context.Context, userID, lessonID string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.Cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	key := challengeKey(userID, lessonID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "hash", string(hash), "attempts", 0)
		pipe.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return code, nil
}

// Release drops the challenge and its resend cooldown. It is used when an
// issued code never reached the user.
func (s *Store) Release(ctx context.Context, userID, lessonID string) error {
	if err := s.rdb.Del(ctx, challengeKey(userID, lessonID), cooldownKey(userID, lessonID)).Err(); err != nil {
		return fmt.Errorf("release challenge: %w", err)
	}
	return nil
}

// Verify consumes the challenge on success. Each wrong code counts as an
// attempt; after MaxAttempts the challenge is discarded.
func (s *Store) Verify(ctx context.Context, userID, lessonID, code string) error {
	key := challengeKey(userID, lessonID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	hash, ok := fields["hash"]
	if !ok {
		return ErrNoChallenge
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	if attempts >= s.cfg.MaxAttempts {
		s.rdb.Del(ctx, key)
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		n, err := countAttempt.Run(ctx, s.rdb, []string{key}).Int64()
		if err != nil {
			return fmt.Errorf("count attempt: %w", err)
		}
		if n < 0 {
			return ErrNoChallenge
		}
		if int(n) >= s.cfg.MaxAttempts {
			s.rdb.Del(ctx, key)
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	return nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
