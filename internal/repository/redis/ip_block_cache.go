package redis

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/client"
	"email-guard/internal/model"
	"email-guard/internal/util"
)

const blockedPrefix = "blocked:"

// IPBlockCache is the explicit deny list. Key presence means blocked; the
// stored value is the human-readable reason. Expiry unblocks automatically.
type IPBlockCache struct {
	client *client.RedisClient
}

func NewIPBlockCache(client *client.RedisClient) *IPBlockCache {
	return &IPBlockCache{client: client}
}

func (c *IPBlockCache) Block(ctx context.Context, ip, reason string, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := blockedPrefix + ip
	if err := c.client.Set(ctx, key, reason, duration); err != nil {
		util.Error("Failed to block IP",
			zap.String("ip", ip),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}

	util.Info("IP blocked",
		zap.String("ip", ip),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
	return nil
}

// Lookup returns the stored reason and remaining TTL when the IP is blocked.
func (c *IPBlockCache) Lookup(ctx context.Context, ip string) (string, time.Duration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := blockedPrefix + ip

	reason, err := c.client.Get(ctx, key)
	if err != nil {
		if client.IsNotFound(err, key) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}

	remaining, err := c.client.TTL(ctx, key)
	if err != nil {
		remaining = 0
	}

	return reason, remaining, true, nil
}

// Unblock removes the deny-list entry and reports whether it existed.
func (c *IPBlockCache) Unblock(ctx context.Context, ip string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := blockedPrefix + ip

	removed, err := c.client.Del(ctx, key)
	if err != nil {
		util.Error("Failed to unblock IP",
			zap.String("ip", ip),
			zap.Error(err))
		return false, err
	}

	if removed > 0 {
		util.Info("IP unblocked", zap.String("ip", ip))
	}
	return removed > 0, nil
}

func (c *IPBlockCache) List(ctx context.Context) ([]model.BlockedIP, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := c.client.ScanAll(ctx, blockedPrefix+"*", 500)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	blocked := make([]model.BlockedIP, 0, len(keys))
	for _, key := range keys {
		reason, err := c.client.Get(ctx, key)
		if err != nil {
			continue // expired between scan and read
		}
		ttl, err := c.client.TTL(ctx, key)
		if err != nil {
			ttl = 0
		}
		blocked = append(blocked, model.BlockedIP{
			IP:        strings.TrimPrefix(key, blockedPrefix),
			Reason:    reason,
			ExpiresIn: int64(ttl.Seconds()),
			ExpiresAt: now.Add(ttl),
		})
	}

	return blocked, nil
}
