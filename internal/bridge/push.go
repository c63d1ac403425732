package bridge

import (
	"context"
	"time"

	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/observability"
	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/registry"
)

// pumpEvents applies device readings in arrival order and pushes each one
// to the paired endpoint, if any.
func (s *Service) pumpEvents(ctx context.Context) error {
	events := s.reg.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			target, ok := s.reg.Apply(ev)
			if !ok {
				continue
			}
			if err := s.Push(ctx, target, ev); err != nil {
				if s.reg.Unpair(ctx, ev.Device, target) {
					logging.Warnf(
						"bridge.pumpEvents push failed, unpaired device=%q endpoint=%s err=%v",
						ev.Device,
						target,
						err,
					)
				}
			}
		}
	}
}

// Push delivers one reading to ep as a DATA_PUSH envelope over a fresh
// connection. Dial and write share a single PushTimeout budget.
func (s *Service) Push(ctx context.Context, ep registry.Endpoint, ev registry.DeviceReading) error {
	start := time.Now()
	err := s.push(ctx, ep, ev)
	observability.RecordPush(time.Since(start), err == nil)
	return err
}

func (s *Service) push(ctx context.Context, ep registry.Endpoint, ev registry.DeviceReading) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PushTimeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	msg := envelope.New(envelope.CodeDataPush, envelope.Readings{ev.Reading})
	if err := WriteEnvelope(conn, s.codec, msg, s.cfg.MaxMessageSize); err != nil {
		return err
	}
	logging.Debugf("bridge.Push device=%q endpoint=%s reading=%s", ev.Device, ep, ev.Reading)
	return nil
}
