package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"email-guard/internal/model"
)

func TestFrequencyStageFirstSendAllowed(t *testing.T) {
	cache := newFakeFrequencyCache()
	stage := NewFrequencyStage(cache, 30*time.Second)

	outcome := stage.Check(context.Background(), &Request{Email: "donor@example.com"})

	if !outcome.Allowed {
		t.Fatalf("first send rejected with %q", outcome.Code)
	}
	if len(cache.marked) != 1 || cache.marked[0] != "donor@example.com" {
		t.Errorf("marked = %v, want the checked address", cache.marked)
	}
}

func TestFrequencyStageRejectsWithinInterval(t *testing.T) {
	cache := newFakeFrequencyCache()
	cache.last["donor@example.com"] = time.Now().Add(-10 * time.Second)
	stage := NewFrequencyStage(cache, 30*time.Second)

	outcome := stage.Check(context.Background(), &Request{Email: "donor@example.com"})

	if outcome.Allowed {
		t.Fatal("expected rejection inside the minimum interval")
	}
	if outcome.Status != StatusVolume {
		t.Errorf("status = %d, want %d", outcome.Status, StatusVolume)
	}
	if outcome.Code != model.CodeEmailFrequencyLimit {
		t.Errorf("code = %q, want %q", outcome.Code, model.CodeEmailFrequencyLimit)
	}
	// 20s of the 30s interval remain; ceil gives 20 or 21 depending on clock.
	if outcome.RetryAfter < 19 || outcome.RetryAfter > 21 {
		t.Errorf("retryAfter = %d, want about 20", outcome.RetryAfter)
	}
}

func TestFrequencyStageAllowsAfterInterval(t *testing.T) {
	cache := newFakeFrequencyCache()
	cache.last["donor@example.com"] = time.Now().Add(-45 * time.Second)
	stage := NewFrequencyStage(cache, 30*time.Second)

	outcome := stage.Check(context.Background(), &Request{Email: "donor@example.com"})

	if !outcome.Allowed {
		t.Fatalf("send after interval rejected with %q", outcome.Code)
	}
}

func TestFrequencyStageFailsOpen(t *testing.T) {
	cache := newFakeFrequencyCache()
	cache.readErr = errors.New("connection refused")
	stage := NewFrequencyStage(cache, 30*time.Second)

	outcome := stage.Check(context.Background(), &Request{Email: "donor@example.com"})

	if !outcome.Allowed {
		t.Fatal("store outage must not reject legitimate requests")
	}
}

func TestFrequencyStageMarkFailureStillAllows(t *testing.T) {
	cache := newFakeFrequencyCache()
	cache.markErr = errors.New("write failed")
	stage := NewFrequencyStage(cache, 30*time.Second)

	outcome := stage.Check(context.Background(), &Request{Email: "donor@example.com"})

	if !outcome.Allowed {
		t.Fatal("failed send-time write must not reject the request")
	}
}

func TestFrequencyStageSkipsEmptyEmail(t *testing.T) {
	cache := newFakeFrequencyCache()
	cache.readErr = errors.New("should not be consulted")
	stage := NewFrequencyStage(cache, 30*time.Second)

	outcome := stage.Check(context.Background(), &Request{})

	if !outcome.Allowed {
		t.Fatal("request without an address must pass the frequency stage")
	}
}
