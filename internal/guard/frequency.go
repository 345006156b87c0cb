package guard

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"email-guard/internal/model"
	"email-guard/internal/util"
)

// FrequencyStage enforces the minimum interval between sends to the same
// address. If the store is unreachable the stage fails open: an outage must
// not turn into a denial of service against legitimate users.
type FrequencyStage struct {
	cache       model.FrequencyCache
	minInterval time.Duration
}

func NewFrequencyStage(cache model.FrequencyCache, minInterval time.Duration) *FrequencyStage {
	return &FrequencyStage{cache: cache, minInterval: minInterval}
}

func (s *FrequencyStage) Name() string { return "frequency" }

func (s *FrequencyStage) Check(ctx context.Context, req *Request) Outcome {
	if req.Email == "" {
		return Allow()
	}

	last, found, err := s.cache.LastSend(ctx, req.Email)
	if err != nil {
		util.Warn("Frequency check unavailable, allowing request",
			zap.String("email", req.Email),
			zap.Error(err))
		return Allow()
	}

	now := time.Now()
	if found {
		elapsed := now.Sub(last)
		if elapsed < s.minInterval {
			retryAfter := int(math.Ceil((s.minInterval - elapsed).Seconds()))
			return Reject(StatusVolume, model.CodeEmailFrequencyLimit,
				"Please wait before requesting another email", retryAfter).
				WithDetails("send interval not elapsed")
		}
	}

	if err := s.cache.MarkSend(ctx, req.Email, now); err != nil {
		util.Warn("Failed to record send time, allowing request",
			zap.String("email", req.Email),
			zap.Error(err))
	}
	return Allow()
}
