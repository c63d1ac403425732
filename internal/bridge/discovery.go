package bridge

import (
	"context"
	"time"

	"github.com/danmuck/bandbridge/internal/logging"
)

// Sweep lists available devices once and reconciles the registry with them.
func (s *Service) Sweep(ctx context.Context) error {
	names, err := s.discovery.ListAvailable(ctx)
	if err != nil {
		return err
	}
	return s.reg.Reconcile(ctx, names, s.discovery.Connect)
}

// runDiscovery sweeps immediately and then every DiscoveryInterval. A zero
// interval sweeps once. Sweep errors are logged and retried on the next tick.
func (s *Service) runDiscovery(ctx context.Context) error {
	if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		logging.Warnf("bridge.runDiscovery sweep err=%v", err)
	}
	if s.cfg.DiscoveryInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logging.Warnf("bridge.runDiscovery sweep err=%v", err)
			}
		}
	}
}
