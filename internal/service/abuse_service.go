package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/client"
	"email-guard/internal/model"
	"email-guard/internal/util"
)

var (
	ErrInvalidTimeframe  = errors.New("invalid timeframe")
	ErrInvalidIP         = errors.New("invalid ip address")
	ErrNotBlocked        = errors.New("ip was not blocked")
	ErrNoAttempts        = errors.New("no attempts found")
	ErrSearchUnavailable = errors.New("search backend not configured")
)

const recentLogsCap = 50

// timeframes admins may select for stats and export lookback.
var timeframes = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// AbuseService exposes the administrative view over the protection state:
// aggregated stats, block management, attempt counters, and log export.
type AbuseService struct {
	logs     model.AbuseLogCache
	blocks   model.IPBlockCache
	attempts model.OTPAttemptCache
	freq     model.FrequencyCache

	es      *client.ESClient
	esIndex string

	defaultBlock time.Duration
	logger       *zap.Logger
}

func NewAbuseService(
	logs model.AbuseLogCache,
	blocks model.IPBlockCache,
	attempts model.OTPAttemptCache,
	freq model.FrequencyCache,
	es *client.ESClient,
	esIndex string,
	defaultBlock time.Duration,
) *AbuseService {
	return &AbuseService{
		logs:         logs,
		blocks:       blocks,
		attempts:     attempts,
		freq:         freq,
		es:           es,
		esIndex:      esIndex,
		defaultBlock: defaultBlock,
		logger:       util.Get(),
	}
}

// AbuseStats is the aggregated dashboard view for one lookback window.
type AbuseStats struct {
	TotalAttempts  int                   `json:"totalAttempts"`
	AbuseTypes     map[string]int        `json:"abuseTypes"`
	IPAddresses    map[string]int        `json:"ipAddresses"`
	EmailAddresses map[string]int        `json:"emailAddresses"`
	RecentLogs     []model.AbuseLogEntry `json:"recentLogs"`
	Timeframe      string                `json:"timeframe"`
}

// Stats aggregates abuse-log entries within the selected lookback window.
func (s *AbuseService) Stats(ctx context.Context, timeframe string) (*AbuseStats, error) {
	entries, err := s.entriesWithin(ctx, timeframe)
	if err != nil {
		return nil, err
	}

	stats := &AbuseStats{
		TotalAttempts:  len(entries),
		AbuseTypes:     make(map[string]int),
		IPAddresses:    make(map[string]int),
		EmailAddresses: make(map[string]int),
		Timeframe:      timeframe,
	}

	for _, e := range entries {
		stats.AbuseTypes[e.Type]++
		stats.IPAddresses[e.IP]++
		if e.Email != "" {
			stats.EmailAddresses[e.Email]++
		}
	}

	if len(entries) > recentLogsCap {
		entries = entries[:recentLogsCap]
	}
	stats.RecentLogs = entries

	return stats, nil
}

// BlockedIPs lists every currently blocked IP with reason and remaining TTL.
func (s *AbuseService) BlockedIPs(ctx context.Context) ([]model.BlockedIP, error) {
	blocked, err := s.blocks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked ips: %w", err)
	}
	sort.Slice(blocked, func(i, j int) bool {
		return blocked[i].ExpiresIn > blocked[j].ExpiresIn
	})
	return blocked, nil
}

// OTPAttempts lists current attempt counters, highest first.
func (s *AbuseService) OTPAttempts(ctx context.Context) ([]model.OTPAttemptEntry, error) {
	entries, err := s.attempts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list otp attempts: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Attempts > entries[j].Attempts
	})
	return entries, nil
}

// EmailFrequency lists live frequency entries, most recent first.
func (s *AbuseService) EmailFrequency(ctx context.Context) ([]model.EmailFrequencyEntry, error) {
	entries, err := s.freq.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list frequency entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastRequest.After(entries[j].LastRequest)
	})
	return entries, nil
}

// BlockIP manually blocks an address. Reason and duration are optional;
// the default duration applies when none is given.
func (s *AbuseService) BlockIP(ctx context.Context, ip, reason string, duration time.Duration) error {
	if strings.TrimSpace(ip) == "" {
		return ErrInvalidIP
	}
	if reason == "" {
		reason = "Manually blocked by administrator"
	}
	if duration <= 0 {
		duration = s.defaultBlock
	}

	if err := s.blocks.Block(ctx, ip, reason, duration); err != nil {
		return fmt.Errorf("failed to block ip: %w", err)
	}

	s.logger.Info("IP manually blocked",
		zap.String("ip", ip),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
	return nil
}

// UnblockIP lifts a block. Returns ErrNotBlocked when no block existed.
func (s *AbuseService) UnblockIP(ctx context.Context, ip string) error {
	if strings.TrimSpace(ip) == "" {
		return ErrInvalidIP
	}

	existed, err := s.blocks.Unblock(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to unblock ip: %w", err)
	}
	if !existed {
		return ErrNotBlocked
	}
	return nil
}

// ClearOTPAttempts removes the attempt counter for an address. Returns
// ErrNoAttempts when nothing was recorded; the operation is idempotent.
func (s *AbuseService) ClearOTPAttempts(ctx context.Context, email string) error {
	existed, err := s.attempts.Clear(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to clear otp attempts: %w", err)
	}
	if !existed {
		return ErrNoAttempts
	}

	s.logger.Info("OTP attempts cleared by administrator",
		zap.String("email", email))
	return nil
}

// Export returns the abuse-log entries for a lookback window, newest first.
func (s *AbuseService) Export(ctx context.Context, timeframe string) ([]model.AbuseLogEntry, error) {
	return s.entriesWithin(ctx, timeframe)
}

// ExportCSV renders entries in the fixed export format: every field quoted,
// embedded quotes doubled.
func ExportCSV(entries []model.AbuseLogEntry) []byte {
	var buf bytes.Buffer
	buf.WriteString("Timestamp,IP,Email,Type,Details,UserAgent,Referer,Origin\n")
	for _, e := range entries {
		fields := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.IP,
			e.Email,
			e.Type,
			e.Details,
			e.UserAgent,
			e.Referer,
			e.Origin,
		}
		for i, f := range fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
			buf.WriteByte('"')
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Search runs a free-text lookup over the Elasticsearch mirror.
func (s *AbuseService) Search(ctx context.Context, query string, limit int) ([]model.AbuseLogEntry, error) {
	if s.es == nil {
		return nil, ErrSearchUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	body := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"ip", "email", "type", "details", "user_agent"},
			},
		},
	}

	res, err := s.es.Search(ctx, s.esIndex, body)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source model.AbuseLogEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("search response invalid: %w", err)
	}

	entries := make([]model.AbuseLogEntry, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		entries = append(entries, hit.Source)
	}
	return entries, nil
}

func (s *AbuseService) entriesWithin(ctx context.Context, timeframe string) ([]model.AbuseLogEntry, error) {
	window, ok := timeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	entries, err := s.logs.Range(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to read abuse log: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}
