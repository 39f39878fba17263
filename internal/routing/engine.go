package routing

import (
	"context"
	"errors"

	"voice-platform/internal/telephony"
	"voice-platform/pkg/logger"
)

// NewEngineAdapter adapts the Decision-based RoutingEngine to the
// provider-facing telephony.InboundRouter contract.
func NewEngineAdapter(engine *RoutingEngine) telephony.InboundRouter {
	return engineAdapter{engine: engine}
}

type engineAdapter struct {
	engine *RoutingEngine
}

func (a engineAdapter) RouteInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	if a.engine == nil {
		return telephony.InboundCallResult{}, errors.New("routing: engine is nil")
	}

	d, err := a.engine.Route(ctx, RouteInput{Inbound: req})
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	logger.From(ctx).Info("inbound routing decision",
		"call_sid", req.ProviderCallID, "to", req.To, "action", string(d.Action), "reason", string(d.Reason))

	res, err := d.Result()
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	if res.Action == telephony.InboundCallActionConnect {
		res.CallerID = req.From
	}
	return res, nil
}
