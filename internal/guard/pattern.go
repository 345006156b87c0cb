package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"email-guard/internal/model"
	"email-guard/internal/util"
)

// timestampCap bounds the request-time list against a client hammering the
// endpoint; the window prune keeps it accurate below this.
const timestampCap = 100

// PatternConfig carries the anomaly thresholds.
type PatternConfig struct {
	Window      time.Duration // rolling window for request volume
	MaxRequests int           // requests in window before block
	MaxEmails   int           // distinct tracked addresses before block
	MaxAgents   int           // distinct user agents before block
	HistorySize int           // tracked entries for emails and agents
	VolumeBlock time.Duration
	EnumBlock   time.Duration
	AgentBlock  time.Duration
}

// PatternStage detects abusive behavior shapes per source IP: raw request
// volume, target-address diversity (enumeration), and user-agent churn.
// Each trigger blocks the IP and rejects; the message stays generic so the
// thresholds are not revealed to the sender.
type PatternStage struct {
	cache  model.PatternCache
	blocks model.IPBlockCache
	cfg    PatternConfig
}

func NewPatternStage(cache model.PatternCache, blocks model.IPBlockCache, cfg PatternConfig) *PatternStage {
	return &PatternStage{cache: cache, blocks: blocks, cfg: cfg}
}

func (s *PatternStage) Name() string { return "pattern" }

func (s *PatternStage) Check(ctx context.Context, req *Request) Outcome {
	record, err := s.cache.Load(ctx, req.IP)
	if err != nil {
		util.Warn("Pattern record unavailable, allowing request",
			zap.String("ip", req.IP),
			zap.Error(err))
		return Allow()
	}

	now := time.Now()
	s.track(record, req, now)

	recentRequests := len(record.Timestamps)
	distinctEmails := distinctStrings(record.Emails)
	distinctAgents := len(record.AgentHashes)

	if recentRequests > s.cfg.MaxRequests {
		s.block(ctx, req.IP, fmt.Sprintf("High request volume: %d requests in window", recentRequests), s.cfg.VolumeBlock)
		return Reject(StatusVolume, model.CodeSuspiciousActivity,
			"Suspicious activity detected from your network",
			int(s.cfg.VolumeBlock.Seconds())).
			WithDetails(fmt.Sprintf("%d requests within %s", recentRequests, s.cfg.Window))
	}

	if distinctEmails > s.cfg.MaxEmails {
		s.block(ctx, req.IP, fmt.Sprintf("Email enumeration: %d distinct addresses", distinctEmails), s.cfg.EnumBlock)
		return Reject(StatusVolume, model.CodeEmailEnumeration,
			"Suspicious activity detected from your network",
			int(s.cfg.EnumBlock.Seconds())).
			WithDetails(fmt.Sprintf("%d distinct target addresses tracked", distinctEmails))
	}

	if distinctAgents > s.cfg.MaxAgents {
		s.block(ctx, req.IP, fmt.Sprintf("User agent churn: %d distinct agents", distinctAgents), s.cfg.AgentBlock)
		return Reject(StatusVolume, model.CodeMultipleUserAgents,
			"Suspicious activity detected from your network",
			int(s.cfg.AgentBlock.Seconds())).
			WithDetails(fmt.Sprintf("%d distinct user agents seen", distinctAgents))
	}

	if err := s.cache.Save(ctx, req.IP, record); err != nil {
		util.Warn("Failed to persist pattern record",
			zap.String("ip", req.IP),
			zap.Error(err))
	}
	return Allow()
}

// track appends the current request to the record and applies the bounds:
// timestamps are pruned to the rolling window, email and agent lists to the
// most recent HistorySize entries.
func (s *PatternStage) track(record *model.PatternRecord, req *Request, now time.Time) {
	cutoff := now.Add(-s.cfg.Window).UnixMilli()
	kept := record.Timestamps[:0]
	for _, ts := range record.Timestamps {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	record.Timestamps = append(kept, now.UnixMilli())
	if len(record.Timestamps) > timestampCap {
		record.Timestamps = record.Timestamps[len(record.Timestamps)-timestampCap:]
	}

	if req.Email != "" {
		record.Emails = append(record.Emails, req.Email)
		if len(record.Emails) > s.cfg.HistorySize {
			record.Emails = record.Emails[len(record.Emails)-s.cfg.HistorySize:]
		}
	}

	if req.UserAgent != "" {
		hash := murmur3.Sum64([]byte(req.UserAgent))
		known := false
		for _, h := range record.AgentHashes {
			if h == hash {
				known = true
				break
			}
		}
		if !known {
			record.AgentHashes = append(record.AgentHashes, hash)
			if len(record.AgentHashes) > s.cfg.HistorySize {
				record.AgentHashes = record.AgentHashes[len(record.AgentHashes)-s.cfg.HistorySize:]
			}
		}
	}
}

func (s *PatternStage) block(ctx context.Context, ip, reason string, duration time.Duration) {
	if err := s.blocks.Block(ctx, ip, reason, duration); err != nil {
		util.Warn("Failed to set IP block after pattern trigger",
			zap.String("ip", ip),
			zap.Error(err))
	}
}

func distinctStrings(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}
