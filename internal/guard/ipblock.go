package guard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"email-guard/internal/model"
	"email-guard/internal/util"
)

// IPBlockStage rejects requests from explicitly denied IPs. It runs before
// the pattern stage so a blocked IP never reaches pattern accounting.
type IPBlockStage struct {
	blocks model.IPBlockCache
}

func NewIPBlockStage(blocks model.IPBlockCache) *IPBlockStage {
	return &IPBlockStage{blocks: blocks}
}

func (s *IPBlockStage) Name() string { return "ip-block" }

func (s *IPBlockStage) Check(ctx context.Context, req *Request) Outcome {
	reason, remaining, blocked, err := s.blocks.Lookup(ctx, req.IP)
	if err != nil {
		util.Warn("IP block check unavailable, allowing request",
			zap.String("ip", req.IP),
			zap.Error(err))
		return Allow()
	}
	if !blocked {
		return Allow()
	}

	return Reject(StatusVolume, model.CodeIPBlocked,
		fmt.Sprintf("Access temporarily blocked: %s", reason),
		int(remaining.Seconds())).
		WithDetails(reason)
}
