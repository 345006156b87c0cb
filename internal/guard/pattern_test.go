package guard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"email-guard/internal/model"
)

func patternTestConfig() PatternConfig {
	return PatternConfig{
		Window:      time.Hour,
		MaxRequests: 25,
		MaxEmails:   12,
		MaxAgents:   8,
		HistorySize: 20,
		VolumeBlock: 30 * time.Minute,
		EnumBlock:   20 * time.Minute,
		AgentBlock:  30 * time.Minute,
	}
}

func TestPatternStageVolumeTrigger(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	var outcome Outcome
	for i := 0; i < 26; i++ {
		outcome = stage.Check(ctx, &Request{IP: "203.0.113.9", UserAgent: "curl/8.0"})
	}

	if outcome.Allowed {
		t.Fatal("expected volume trigger on the 26th request")
	}
	if outcome.Code != model.CodeSuspiciousActivity {
		t.Errorf("code = %q, want %q", outcome.Code, model.CodeSuspiciousActivity)
	}
	if outcome.Status != StatusVolume {
		t.Errorf("status = %d, want %d", outcome.Status, StatusVolume)
	}

	if _, _, blocked, _ := blocks.Lookup(ctx, "203.0.113.9"); !blocked {
		t.Error("volume trigger must also block the IP")
	}
	if entry := blocks.blocks["203.0.113.9"]; entry.duration != 30*time.Minute {
		t.Errorf("block duration = %v, want 30m", entry.duration)
	}
}

func TestPatternStageAllowsUnderVolume(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		outcome := stage.Check(ctx, &Request{IP: "203.0.113.9", UserAgent: "curl/8.0"})
		if !outcome.Allowed {
			t.Fatalf("request %d rejected with %q", i+1, outcome.Code)
		}
	}
}

func TestPatternStagePrunesOldTimestamps(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	// Seed a record saturated with stale requests outside the window.
	stale := time.Now().Add(-2 * time.Hour).UnixMilli()
	record := &model.PatternRecord{}
	for i := 0; i < 50; i++ {
		record.Timestamps = append(record.Timestamps, stale)
	}
	if err := cache.Save(ctx, "203.0.113.9", record); err != nil {
		t.Fatal(err)
	}

	outcome := stage.Check(ctx, &Request{IP: "203.0.113.9", UserAgent: "curl/8.0"})
	if !outcome.Allowed {
		t.Fatalf("stale volume outside the window rejected with %q", outcome.Code)
	}

	saved, _ := cache.Load(ctx, "203.0.113.9")
	if len(saved.Timestamps) != 1 {
		t.Errorf("timestamps after prune = %d, want 1", len(saved.Timestamps))
	}
}

func TestPatternStageEnumerationTrigger(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	var outcome Outcome
	for i := 0; i < 13; i++ {
		outcome = stage.Check(ctx, &Request{
			IP:        "203.0.113.9",
			Email:     fmt.Sprintf("target%02d@example.com", i),
			UserAgent: "curl/8.0",
		})
	}

	if outcome.Allowed {
		t.Fatal("expected enumeration trigger on the 13th distinct address")
	}
	if outcome.Code != model.CodeEmailEnumeration {
		t.Errorf("code = %q, want %q", outcome.Code, model.CodeEmailEnumeration)
	}
	if entry := blocks.blocks["203.0.113.9"]; entry.duration != 20*time.Minute {
		t.Errorf("block duration = %v, want 20m", entry.duration)
	}
}

func TestPatternStageRepeatedAddressDoesNotTrigger(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		outcome := stage.Check(ctx, &Request{
			IP:        "203.0.113.9",
			Email:     "same@example.com",
			UserAgent: "curl/8.0",
		})
		if !outcome.Allowed {
			t.Fatalf("request %d rejected with %q", i+1, outcome.Code)
		}
	}
}

func TestPatternStageUserAgentChurnTrigger(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	var outcome Outcome
	for i := 0; i < 9; i++ {
		outcome = stage.Check(ctx, &Request{
			IP:        "203.0.113.9",
			UserAgent: fmt.Sprintf("bot-agent/%d.0", i),
		})
	}

	if outcome.Allowed {
		t.Fatal("expected user-agent trigger on the 9th distinct agent")
	}
	if outcome.Code != model.CodeMultipleUserAgents {
		t.Errorf("code = %q, want %q", outcome.Code, model.CodeMultipleUserAgents)
	}
}

func TestPatternStageSameAgentDeduplicated(t *testing.T) {
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		stage.Check(ctx, &Request{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"})
	}

	saved, _ := cache.Load(ctx, "203.0.113.9")
	if len(saved.AgentHashes) != 1 {
		t.Errorf("agent hashes = %d, want 1", len(saved.AgentHashes))
	}
}

func TestPatternStageBoundsHistory(t *testing.T) {
	cfg := patternTestConfig()
	cfg.MaxEmails = 100 // keep the trigger out of the way
	cache := newFakePatternCache()
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, cfg)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		stage.Check(ctx, &Request{
			IP:        "203.0.113.9",
			Email:     fmt.Sprintf("target%02d@example.com", i),
			UserAgent: "curl/8.0",
		})
	}

	saved, _ := cache.Load(ctx, "203.0.113.9")
	if len(saved.Emails) > cfg.HistorySize {
		t.Errorf("tracked emails = %d, exceeds bound %d", len(saved.Emails), cfg.HistorySize)
	}
}

func TestPatternStageFailsOpenOnLoadError(t *testing.T) {
	cache := newFakePatternCache()
	cache.loadErr = context.DeadlineExceeded
	blocks := newFakeBlockCache()
	stage := NewPatternStage(cache, blocks, patternTestConfig())

	outcome := stage.Check(context.Background(), &Request{IP: "203.0.113.9"})

	if !outcome.Allowed {
		t.Fatal("store outage must not reject the request")
	}
}
