package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/client"
	"email-guard/internal/model"
	"email-guard/internal/util"
)

const patternPrefix = "pattern:"

// PatternCache persists the per-IP behavior record as a JSON blob. A missing
// record loads as an empty one; saving resets the inactivity expiry.
type PatternCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewPatternCache(client *client.RedisClient, ttl time.Duration) *PatternCache {
	return &PatternCache{client: client, ttl: ttl}
}

func (c *PatternCache) Load(ctx context.Context, ip string) (*model.PatternRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := patternPrefix + ip

	val, err := c.client.Get(ctx, key)
	if err != nil {
		if client.IsNotFound(err, key) {
			return &model.PatternRecord{}, nil
		}
		return nil, err
	}

	var record model.PatternRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		// A corrupt record is discarded rather than wedging the IP forever.
		util.Warn("Discarding malformed pattern record",
			zap.String("ip", ip),
			zap.Error(err))
		return &model.PatternRecord{}, nil
	}

	return &record, nil
}

func (c *PatternCache) Save(ctx context.Context, ip string, record *model.PatternRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := patternPrefix + ip
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		util.Error("Failed to save pattern record",
			zap.String("ip", ip),
			zap.Error(err))
		return err
	}

	return nil
}
