package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/observability"
	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/protocol/frame"
	"github.com/google/uuid"
)

// handleConn answers every complete request frame on conn in order until
// EOF, a frame violation, or shutdown.
func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)

	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	active := s.activeClients.Add(1)
	logging.Debugf("bridge.handleConn connected conn_id=%s remote=%q active_clients=%d", connID, remote, active)
	defer func() {
		remaining := s.activeClients.Add(-1)
		logging.Debugf("bridge.handleConn disconnected conn_id=%s remote=%q active_clients=%d", connID, remote, remaining)
	}()

	var pending [][]byte
	dec := frame.NewDecoder(s.cfg.MaxMessageSize, func(body []byte) {
		pending = append(pending, body)
	})
	buf := make([]byte, s.cfg.ReadChunkSize)

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		n, readErr := conn.Read(buf)
		if n > 0 {
			if err := dec.Feed(buf[:n]); err != nil {
				observability.RecordFrameError(frameErrorKind(err))
				logging.Warnf("bridge.handleConn frame error conn_id=%s remote=%q err=%v", connID, remote, err)
				return
			}
			for _, body := range pending {
				if err := s.answer(ctx, conn, connID, body); err != nil {
					logging.Warnf("bridge.handleConn write response conn_id=%s err=%v", connID, err)
					return
				}
			}
			pending = pending[:0]
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(readErr, &ne) && ne.Timeout() {
				logging.Infof("bridge.handleConn idle timeout conn_id=%s remote=%q", connID, remote)
				return
			}
			logging.Warnf("bridge.handleConn read conn_id=%s err=%v", connID, readErr)
			return
		}
	}
}

// answer decodes one frame body and writes the response. Keepalives are
// consumed silently.
func (s *Service) answer(ctx context.Context, conn net.Conn, connID string, body []byte) error {
	if len(body) == 0 {
		logging.Debugf("bridge.answer keepalive conn_id=%s", connID)
		return nil
	}

	var resp envelope.Envelope
	req, err := s.codec.Decode(body)
	if err != nil {
		observability.RecordFrameError("malformed_envelope")
		logging.Warnf("bridge.answer decode conn_id=%s err=%v", connID, err)
		resp = envelope.Ctrl()
	} else {
		resp = s.Dispatch(ctx, req)
		logging.Debugf("bridge.answer conn_id=%s request=%q response=%q", connID, req.String(), resp.String())
	}
	return WriteEnvelope(conn, s.codec, resp, s.cfg.MaxMessageSize)
}

func frameErrorKind(err error) string {
	switch {
	case errors.Is(err, frame.ErrNegativeLength):
		return "negative_length"
	case errors.Is(err, frame.ErrTooLarge):
		return "too_large"
	default:
		return "other"
	}
}
