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

const emailFreqPrefix = "email-freq:"

// FrequencyCache persists the last-send timestamp per address. Only one live
// entry exists per address; the entry expires on its own after the TTL.
type FrequencyCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewFrequencyCache(client *client.RedisClient, ttl time.Duration) *FrequencyCache {
	return &FrequencyCache{client: client, ttl: ttl}
}

func (c *FrequencyCache) LastSend(ctx context.Context, email string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := emailFreqPrefix + email

	val, err := c.client.Get(ctx, key)
	if err != nil {
		if client.IsNotFound(err, key) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		util.Error("Invalid frequency entry format",
			zap.String("email", email),
			zap.String("value", val),
			zap.Error(err))
		return time.Time{}, false, err
	}

	return time.UnixMilli(ms), true, nil
}

func (c *FrequencyCache) MarkSend(ctx context.Context, email string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := emailFreqPrefix + email
	if err := c.client.Set(ctx, key, at.UnixMilli(), c.ttl); err != nil {
		util.Error("Failed to record email send time",
			zap.String("email", email),
			zap.Error(err))
		return err
	}

	util.Debug("Email send time recorded",
		zap.String("email", email),
		zap.Duration("ttl", c.ttl))
	return nil
}

// List returns every live frequency entry with its remaining TTL.
func (c *FrequencyCache) List(ctx context.Context) ([]model.EmailFrequencyEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := c.client.ScanAll(ctx, emailFreqPrefix+"*", 500)
	if err != nil {
		return nil, err
	}

	entries := make([]model.EmailFrequencyEntry, 0, len(keys))
	for _, key := range keys {
		val, err := c.client.Get(ctx, key)
		if err != nil {
			continue // entry expired between scan and read
		}
		ms, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		ttl, err := c.client.TTL(ctx, key)
		if err != nil {
			ttl = 0
		}
		entries = append(entries, model.EmailFrequencyEntry{
			Email:       strings.TrimPrefix(key, emailFreqPrefix),
			LastRequest: time.UnixMilli(ms),
			ExpiresIn:   int64(ttl.Seconds()),
		})
	}

	return entries, nil
}
