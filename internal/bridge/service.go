package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/observability"
	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/registry"
	"github.com/danmuck/bandbridge/internal/sensor"
	"golang.org/x/sync/errgroup"
)

// Service owns the registry and runs the accept loop, the discovery loop,
// the event pump, and the optional admin HTTP server.
type Service struct {
	cfg       ServiceConfig
	codec     envelope.Codec
	reg       *registry.Registry
	discovery sensor.Discovery
	dialer    net.Dialer

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	activeClients atomic.Int64
}

// NewServiceWithConfig builds a service around discovery. Configuration
// errors surface from Run and Serve.
func NewServiceWithConfig(cfg ServiceConfig, discovery sensor.Discovery) *Service {
	cfg = cfg.WithDefaults()
	codec, err := envelope.CodecByName(cfg.Codec)
	if err != nil {
		codec = envelope.TLVCodec{}
	}
	return &Service{
		cfg:       cfg,
		codec:     codec,
		reg:       registry.New(cfg.Registry),
		discovery: discovery,
		dialer:    net.Dialer{Timeout: cfg.PushTimeout},
		conns:     make(map[net.Conn]struct{}),
	}
}

func (s *Service) Registry() *registry.Registry {
	return s.reg
}

func (s *Service) Codec() envelope.Codec {
	return s.codec
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// ActiveClients returns the number of open request connections.
func (s *Service) ActiveClients() int64 {
	return s.activeClients.Load()
}

// Run listens on the configured address and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}
	ln, err := s.cfg.TLS.Listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.RunListener(ctx, ln)
}

// RunListener runs every service task on an existing listener. It returns
// nil on clean shutdown and closes all devices before returning.
func (s *Service) RunListener(ctx context.Context, ln net.Listener) error {
	if err := s.validate(); err != nil {
		_ = ln.Close()
		return err
	}
	logging.Infof(
		"bridge.Service.Run listening addr=%q codec=%s max_message_size=%d tls=%v",
		ln.Addr().String(),
		s.codec.Name(),
		s.cfg.MaxMessageSize,
		s.cfg.TLS.Enabled,
	)
	defer s.reg.Close(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	g.Go(func() error {
		return s.runDiscovery(gctx)
	})
	g.Go(func() error {
		return s.pumpEvents(gctx)
	})
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		g.Go(func() error {
			return s.serveAdmin(gctx, addr)
		})
	}
	err := g.Wait()
	logging.Infof("bridge.Service.Run shutdown err=%v", err)
	return err
}

// Serve is the accept loop for request connections on ln.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.validate(); err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn)
	}
}

func (s *Service) validate() error {
	if s.discovery == nil {
		return ErrNilDiscovery
	}
	return s.cfg.Validate()
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("bridge.Service.serveAdmin listening addr=%q", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
	observability.RecordConnectionOpened()
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		observability.RecordConnectionClosed()
	}
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
		observability.RecordConnectionClosed()
	}
}
