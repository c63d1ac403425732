package bridge

import (
	"context"
	"time"

	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/observability"
	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/registry"
	"github.com/danmuck/bandbridge/internal/sensor"
)

// Dispatch answers one request envelope from the registry. Payloads of the
// wrong shape for their code and codes that are not requests get CTRL.
func (s *Service) Dispatch(ctx context.Context, req envelope.Envelope) envelope.Envelope {
	start := time.Now()
	resp := s.dispatch(ctx, req)
	observability.RecordCommand(req.Code.String(), resp.Code.String(), time.Since(start))
	return resp
}

func (s *Service) dispatch(ctx context.Context, req envelope.Envelope) envelope.Envelope {
	switch req.Code {
	case envelope.CodeShowListAsk:
		names := s.reg.Names()
		if names == nil {
			return envelope.New(envelope.CodeShowListAns, envelope.None{})
		}
		return envelope.New(envelope.CodeShowListAns, envelope.TextList(names))

	case envelope.CodeGetDataAsk:
		name, ok := req.Body().(envelope.Text)
		if !ok {
			return envelope.Ctrl()
		}
		avg, found := s.reg.CurrentReadings(string(name))
		if !found {
			return envelope.New(envelope.CodeGetDataAns, envelope.None{})
		}
		return envelope.New(envelope.CodeGetDataAns, averagesPayload(avg))

	case envelope.CodePairAsk:
		pr, ok := req.Body().(envelope.PairRequest)
		if !ok {
			return envelope.Ctrl()
		}
		ep := registry.Endpoint{Host: pr.Host, Port: pr.Port}
		if err := s.reg.Pair(ctx, pr.Device, ep); err != nil {
			logging.Infof("bridge.Dispatch pair rejected device=%q endpoint=%s err=%v", pr.Device, ep, err)
			return envelope.New(envelope.CodePairAns, envelope.Bool(false))
		}
		return envelope.New(envelope.CodePairAns, envelope.Bool(true))

	case envelope.CodeFreeAsk:
		name, ok := req.Body().(envelope.Text)
		if !ok {
			return envelope.Ctrl()
		}
		s.reg.Free(ctx, string(name))
		return envelope.New(envelope.CodeFreeAns, envelope.None{})

	default:
		return envelope.Ctrl()
	}
}

// averagesPayload keeps the two-element [HR, GSR] shape; a metric without
// samples is sent as 0.
func averagesPayload(avg registry.Averages) envelope.Readings {
	return envelope.Readings{
		{Metric: sensor.MetricHR, Value: avg.HR},
		{Metric: sensor.MetricGSR, Value: avg.GSR},
	}
}
