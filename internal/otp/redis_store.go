package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps OTP records as Redis hashes keyed otp:{type}:{email},
// with a TTL as a cleanup backstop. Expiry and attempt decisions stay in the
// service so the error taxonomy is preserved.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(email, otpType string) string {
	return fmt.Sprintf("otp:%s:%s", otpType, email)
}

func (s *RedisStore) Get(ctx context.Context, email, otpType string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, key(email, otpType)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &Record{
		Email: email,
		Type:  otpType,
		Code:  fields["code"],
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if rec.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return nil, fmt.Errorf("parse attempts: %w", err)
	}
	rec.Verified = fields["verified"] == "1"
	if v := fields["verified_at"]; v != "" {
		if rec.VerifiedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("parse verified_at: %w", err)
		}
	}
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record, ttl time.Duration) error {
	k := key(rec.Email, rec.Type)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k,
		"code", rec.Code,
		"expires_at", rec.ExpiresAt.Format(time.RFC3339Nano),
		"attempts", rec.Attempts,
		"verified", "0",
		"verified_at", "",
	)
	pipe.Expire(ctx, k, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, email, otpType string) error {
	return s.client.Del(ctx, key(email, otpType)).Err()
}

// IncrementAttempts burns one attempt atomically and returns the new count.
func (s *RedisStore) IncrementAttempts(ctx context.Context, email, otpType string) (int, error) {
	n, err := s.client.HIncrBy(ctx, key(email, otpType), "attempts", 1).Result()
	return int(n), err
}

func (s *RedisStore) MarkVerified(ctx context.Context, email, otpType string, at time.Time) error {
	return s.client.HSet(ctx, key(email, otpType),
		"verified", "1",
		"verified_at", at.Format(time.RFC3339Nano),
	).Err()
}
