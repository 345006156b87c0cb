package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/client"
	"email-guard/internal/model"
	"email-guard/internal/util"
)

const otpAttemptPrefix = "otp-attempts:"

// OTPAttemptCache counts failed OTP verifications per address. Every failed
// attempt resets the lockout window; a successful verification clears the
// counter entirely.
type OTPAttemptCache struct {
	client *client.RedisClient
	window time.Duration
}

func NewOTPAttemptCache(client *client.RedisClient, window time.Duration) *OTPAttemptCache {
	return &OTPAttemptCache{client: client, window: window}
}

func (c *OTPAttemptCache) Increment(ctx context.Context, email string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpAttemptPrefix + email

	count, err := c.client.IncrWithExpire(ctx, key, c.window)
	if err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("email", email),
			zap.Error(err))
		return 0, err
	}

	util.Debug("OTP attempts incremented",
		zap.String("email", email),
		zap.Int("count", int(count)))

	return int(count), nil
}

func (c *OTPAttemptCache) Count(ctx context.Context, email string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpAttemptPrefix + email

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if client.IsNotFound(err, key) {
			return 0, nil // no attempts recorded
		}
		return 0, err
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid attempt count format",
			zap.String("email", email),
			zap.String("count_str", countStr),
			zap.Error(err))
		return 0, err
	}

	return count, nil
}

// Clear removes the attempt counter and reports whether one existed.
func (c *OTPAttemptCache) Clear(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpAttemptPrefix + email

	removed, err := c.client.Del(ctx, key)
	if err != nil {
		util.Error("Failed to clear OTP attempts",
			zap.String("email", email),
			zap.Error(err))
		return false, err
	}

	util.Debug("OTP attempts cleared",
		zap.String("email", email),
		zap.Bool("existed", removed > 0))

	return removed > 0, nil
}

func (c *OTPAttemptCache) List(ctx context.Context) ([]model.OTPAttemptEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := c.client.ScanAll(ctx, otpAttemptPrefix+"*", 500)
	if err != nil {
		return nil, err
	}

	entries := make([]model.OTPAttemptEntry, 0, len(keys))
	for _, key := range keys {
		val, err := c.client.Get(ctx, key)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		ttl, err := c.client.TTL(ctx, key)
		if err != nil {
			ttl = 0
		}
		entries = append(entries, model.OTPAttemptEntry{
			Email:     strings.TrimPrefix(key, otpAttemptPrefix),
			Attempts:  count,
			ExpiresIn: int64(ttl.Seconds()),
		})
	}

	return entries, nil
}
