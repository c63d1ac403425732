package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/bandbridge/internal/bridge"
	"github.com/danmuck/bandbridge/internal/sensor/sim"
	"github.com/danmuck/bandbridge/internal/testutil/testlog"
)

func startBridge(t *testing.T) string {
	t.Helper()
	cfg := bridge.DefaultServiceConfig()
	cfg.DiscoveryInterval = 0
	svc := bridge.NewServiceWithConfig(cfg, sim.NewDiscovery(sim.Config{
		Devices:  2,
		Interval: 20 * time.Millisecond,
		Seed:     1,
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(3 * time.Second)
	for svc.Registry().Names() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("bridge did not complete its first sweep")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ln.Addr().String()
}

func TestProbeAgainstSimulatedBridge(t *testing.T) {
	testlog.Start(t)
	addr := startBridge(t)

	var out bytes.Buffer
	results, err := runProbe(context.Background(), bridge.NewClient(addr), &out)
	if err != nil {
		t.Fatalf("probe: %v\n%s", err, out.String())
	}
	if len(results) != len(probeCases("Fake Band 1")) {
		t.Fatalf("unexpected result count %d", len(results))
	}
	for _, r := range results {
		if !r.ok {
			t.Fatalf("probe %q failed: %s\n%s", r.name, r.resp, out.String())
		}
	}
	if !strings.Contains(out.String(), "get_data device") {
		t.Fatalf("device probe missing:\n%s", out.String())
	}
}

func TestPairWatchReceivesPushes(t *testing.T) {
	testlog.Start(t)
	addr := startBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := runPairWatch(ctx, bridge.NewClient(addr), "Fake Band 1", "127.0.0.1", 3, &out); err != nil {
		t.Fatalf("pair watch: %v\n%s", err, out.String())
	}
	if strings.Count(out.String(), "DATA_PUSH") != 3 {
		t.Fatalf("expected three pushes:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "FREE_ANS") {
		t.Fatalf("device was not freed:\n%s", out.String())
	}
}

func TestPairWatchRejectsUnknownDevice(t *testing.T) {
	testlog.Start(t)
	addr := startBridge(t)

	var out bytes.Buffer
	if err := runPairWatch(context.Background(), bridge.NewClient(addr), "Nope", "127.0.0.1", 1, &out); err == nil {
		t.Fatalf("expected pair rejection")
	}
}
