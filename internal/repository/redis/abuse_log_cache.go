package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/client"
	"email-guard/internal/model"
	"email-guard/internal/util"
)

const abuseLogPrefix = "abuse-log:"

// AbuseLogCache is the append-only audit trail of triggered protections.
// Keys embed the entry timestamp so a lookback window can be applied from
// the key alone, before any value is read.
type AbuseLogCache struct {
	client    *client.RedisClient
	retention time.Duration
}

func NewAbuseLogCache(client *client.RedisClient, retention time.Duration) *AbuseLogCache {
	return &AbuseLogCache{client: client, retention: retention}
}

func (c *AbuseLogCache) Append(ctx context.Context, entry *model.AbuseLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := abuseLogPrefix + strconv.FormatInt(entry.Timestamp.UnixMilli(), 10) + ":" + entry.IP
	if err := c.client.Set(ctx, key, data, c.retention); err != nil {
		util.Error("Failed to append abuse log entry",
			zap.String("ip", entry.IP),
			zap.String("type", entry.Type),
			zap.Error(err))
		return err
	}

	return nil
}

// Range returns every retained entry at or after the given instant.
func (c *AbuseLogCache) Range(ctx context.Context, since time.Time) ([]model.AbuseLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	keys, err := c.client.ScanAll(ctx, abuseLogPrefix+"*", 1000)
	if err != nil {
		return nil, err
	}

	cutoff := since.UnixMilli()
	entries := make([]model.AbuseLogEntry, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, abuseLogPrefix)
		tsStr, _, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil || ms < cutoff {
			continue
		}

		val, err := c.client.Get(ctx, key)
		if err != nil {
			continue // expired between scan and read
		}
		var entry model.AbuseLogEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			util.Warn("Skipping malformed abuse log entry",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
