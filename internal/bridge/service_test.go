package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/protocol/frame"
	"github.com/danmuck/bandbridge/internal/registry"
	"github.com/danmuck/bandbridge/internal/sensor"
	"github.com/danmuck/bandbridge/internal/testutil/testlog"
	"github.com/danmuck/bandbridge/internal/testutil/tlstest"
	"github.com/danmuck/bandbridge/internal/transport"
)

type stubDevice struct {
	name string
	emit sensor.Emit

	mu      sync.Mutex
	reading bool
}

func (d *stubDevice) Name() string { return d.name }

func (d *stubDevice) StartReading(context.Context, sensor.Metric) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reading = true
	return nil
}

func (d *stubDevice) StopReading(context.Context, sensor.Metric) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reading = false
	return nil
}

func (d *stubDevice) Close() error { return nil }

type stubDiscovery struct {
	mu      sync.Mutex
	names   []string
	devices map[string]*stubDevice
	listErr error
}

func newStubDiscovery(names ...string) *stubDiscovery {
	return &stubDiscovery{names: names, devices: make(map[string]*stubDevice)}
}

func (d *stubDiscovery) ListAvailable(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := append([]string(nil), d.names...)
	return out, nil
}

func (d *stubDiscovery) Connect(_ context.Context, name string, emit sensor.Emit) (sensor.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := &stubDevice{name: name, emit: emit}
	d.devices[name] = dev
	return dev, nil
}

func (d *stubDiscovery) device(name string) *stubDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[name]
}

func testConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DiscoveryInterval = 0
	cfg.PushTimeout = 500 * time.Millisecond
	return cfg
}

// startService runs svc on a loopback listener and waits for the first sweep.
func startService(t *testing.T, svc *Service) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.RunListener(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("service did not stop")
		}
	})
	waitFor(t, func() bool { return svc.Registry().Names() != nil })
	return ln.Addr().String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

// pushSink accepts DATA_PUSH connections and forwards decoded envelopes.
func pushSink(t *testing.T, codec envelope.Codec) (registry.Endpoint, <-chan envelope.Envelope) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen sink: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	out := make(chan envelope.Envelope, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			env, err := ReadEnvelope(conn, codec, frame.DefaultMaxMessageSize)
			_ = conn.Close()
			if err == nil {
				out <- env
			}
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return registry.Endpoint{Host: "127.0.0.1", Port: uint16(addr.Port)}, out
}

func TestDispatchTable(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	svc := NewServiceWithConfig(testConfig(), newStubDiscovery("Band B", "Band A"))

	resp := svc.Dispatch(ctx, envelope.New(envelope.CodeShowListAsk, nil))
	if resp.Code != envelope.CodeShowListAns || resp.Body().Tag() != envelope.TagNone {
		t.Fatalf("show before sweep: got %s", resp)
	}
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	cases := []struct {
		name string
		req  envelope.Envelope
		want envelope.Envelope
	}{
		{"show list", envelope.New(envelope.CodeShowListAsk, nil), envelope.New(envelope.CodeShowListAns, envelope.TextList{"Band A", "Band B"})},
		{"show list ignores payload", envelope.New(envelope.CodeShowListAsk, envelope.Int(42)), envelope.New(envelope.CodeShowListAns, envelope.TextList{"Band A", "Band B"})},
		{"get data known", envelope.New(envelope.CodeGetDataAsk, envelope.Text("Band A")), envelope.New(envelope.CodeGetDataAns, envelope.Readings{{Metric: sensor.MetricHR}, {Metric: sensor.MetricGSR}})},
		{"get data unknown", envelope.New(envelope.CodeGetDataAsk, envelope.Text("Band Z")), envelope.New(envelope.CodeGetDataAns, envelope.None{})},
		{"get data null", envelope.New(envelope.CodeGetDataAsk, nil), envelope.Ctrl()},
		{"get data int", envelope.New(envelope.CodeGetDataAsk, envelope.Int(42)), envelope.Ctrl()},
		{"pair unknown", envelope.New(envelope.CodePairAsk, envelope.PairRequest{Device: "Band Z", Host: "127.0.0.1", Port: 9000}), envelope.New(envelope.CodePairAns, envelope.Bool(false))},
		{"pair wrong shape", envelope.New(envelope.CodePairAsk, envelope.Text("Band A")), envelope.Ctrl()},
		{"free unknown", envelope.New(envelope.CodeFreeAsk, envelope.Text("Band Z")), envelope.New(envelope.CodeFreeAns, envelope.None{})},
		{"free wrong shape", envelope.New(envelope.CodeFreeAsk, envelope.Bool(true)), envelope.Ctrl()},
		{"answer code", envelope.New(envelope.CodeGetDataAns, nil), envelope.Ctrl()},
		{"ctrl", envelope.Ctrl(), envelope.Ctrl()},
		{"data push inbound", envelope.New(envelope.CodeDataPush, envelope.Readings{{Metric: sensor.MetricHR, Value: 1}}), envelope.Ctrl()},
		{"unknown code", envelope.New(envelope.Code(42), nil), envelope.Ctrl()},
	}
	for _, tc := range cases {
		got := svc.Dispatch(ctx, tc.req)
		if got.String() != tc.want.String() {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestDispatchGetDataReportsAverages(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	disc := newStubDiscovery("Band A")
	svc := NewServiceWithConfig(testConfig(), disc)
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	dev := disc.device("Band A")
	for _, v := range []int{60, 71, 80} {
		dev.emit(sensor.Reading{Metric: sensor.MetricHR, Value: v})
	}
	dev.emit(sensor.Reading{Metric: sensor.MetricGSR, Value: 250000})
	for i := 0; i < 4; i++ {
		svc.Registry().Apply(<-svc.Registry().Events())
	}

	resp := svc.Dispatch(ctx, envelope.New(envelope.CodeGetDataAsk, envelope.Text("Band A")))
	readings, ok := resp.Body().(envelope.Readings)
	if !ok || len(readings) != 2 {
		t.Fatalf("unexpected response: %s", resp)
	}
	if readings[0] != (sensor.Reading{Metric: sensor.MetricHR, Value: 70}) {
		t.Fatalf("hr average: got %s", readings[0])
	}
	if readings[1] != (sensor.Reading{Metric: sensor.MetricGSR, Value: 250000}) {
		t.Fatalf("gsr average: got %s", readings[1])
	}
}

func TestPairFreeScenarioOverLoopback(t *testing.T) {
	testlog.Start(t)
	disc := newStubDiscovery("Band A", "Band B")
	svc := NewServiceWithConfig(testConfig(), disc)
	addr := startService(t, svc)
	sink, pushes := pushSink(t, svc.Codec())

	client := NewClient(addr)
	conn, err := client.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := conn.Request(envelope.New(envelope.CodeShowListAsk, nil))
	if err != nil {
		t.Fatalf("show list: %v", err)
	}
	names, ok := resp.Body().(envelope.TextList)
	if !ok || !sort.StringsAreSorted(names) || len(names) != 2 || names[0] != "Band A" {
		t.Fatalf("show list: got %s", resp)
	}

	resp, err = conn.Request(envelope.New(envelope.CodePairAsk, envelope.PairRequest{Device: "Band A", Host: sink.Host, Port: sink.Port}))
	if err != nil || resp.String() != envelope.New(envelope.CodePairAns, envelope.Bool(true)).String() {
		t.Fatalf("pair A: resp=%s err=%v", resp, err)
	}
	resp, err = conn.Request(envelope.New(envelope.CodePairAsk, envelope.PairRequest{Device: "Band Z", Host: sink.Host, Port: sink.Port}))
	if err != nil || resp.String() != envelope.New(envelope.CodePairAns, envelope.Bool(false)).String() {
		t.Fatalf("pair Z: resp=%s err=%v", resp, err)
	}
	if !svc.Registry().IsReading("Band A") {
		t.Fatalf("pairing did not start sensor reading")
	}

	disc.device("Band A").emit(sensor.Reading{Metric: sensor.MetricHR, Value: 72})
	select {
	case push := <-pushes:
		want := envelope.New(envelope.CodeDataPush, envelope.Readings{{Metric: sensor.MetricHR, Value: 72}})
		if push.String() != want.String() {
			t.Fatalf("push: got %s want %s", push, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no DATA_PUSH received")
	}

	disc.device("Band B").emit(sensor.Reading{Metric: sensor.MetricHR, Value: 65})

	resp, err = conn.Request(envelope.New(envelope.CodeFreeAsk, envelope.Text("Band A")))
	if err != nil || resp.Code != envelope.CodeFreeAns {
		t.Fatalf("free A: resp=%s err=%v", resp, err)
	}
	if _, paired := svc.Registry().Paired("Band A"); paired {
		t.Fatalf("Band A still paired after free")
	}
	select {
	case push := <-pushes:
		t.Fatalf("unexpected push for unpaired device: %s", push)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedEnvelopeAnsweredWithCtrl(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(testConfig(), newStubDiscovery("Band A"))
	addr := startService(t, svc)

	conn, err := NewClient(addr).Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	garbage, err := frame.Encode([]byte{0x00, 0x01, 0x01}, frame.DefaultMaxMessageSize)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Raw(garbage); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := conn.Read()
	if err != nil {
		t.Fatalf("read ctrl: %v", err)
	}
	if resp.String() != envelope.Ctrl().String() {
		t.Fatalf("malformed: got %s", resp)
	}

	resp, err = conn.Request(envelope.New(envelope.CodeShowListAsk, nil))
	if err != nil || resp.Code != envelope.CodeShowListAns {
		t.Fatalf("connection did not continue: resp=%s err=%v", resp, err)
	}
}

func TestKeepaliveGetsNoResponse(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(testConfig(), newStubDiscovery("Band A"))
	addr := startService(t, svc)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Write(frame.EncodeKeepalive()); err != nil {
		t.Fatalf("write keepalive: %v", err)
	}
	_ = raw.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = raw.Read(buf)
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout after keepalive, got %v", err)
	}

	_ = raw.SetDeadline(time.Now().Add(2 * time.Second))
	if err := WriteEnvelope(raw, svc.Codec(), envelope.New(envelope.CodeShowListAsk, nil), frame.DefaultMaxMessageSize); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := ReadEnvelope(raw, svc.Codec(), frame.DefaultMaxMessageSize)
	if err != nil || resp.Code != envelope.CodeShowListAns {
		t.Fatalf("request after keepalive: resp=%s err=%v", resp, err)
	}
}

func TestSplitRequestsAcrossWrites(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(testConfig(), newStubDiscovery("Band A"))
	addr := startService(t, svc)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	_ = raw.SetDeadline(time.Now().Add(2 * time.Second))

	body, err := svc.Codec().Encode(envelope.New(envelope.CodeGetDataAsk, envelope.Text("Band A")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	one, _ := frame.Encode(body, frame.DefaultMaxMessageSize)
	stream := append(append([]byte{}, one...), one...)
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		if _, err := raw.Write(stream[i:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		resp, err := ReadEnvelope(raw, svc.Codec(), frame.DefaultMaxMessageSize)
		if err != nil || resp.Code != envelope.CodeGetDataAns {
			t.Fatalf("response %d: resp=%s err=%v", i, resp, err)
		}
	}
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(testConfig(), newStubDiscovery("Band A"))
	addr := startService(t, svc)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	_ = raw.SetDeadline(time.Now().Add(2 * time.Second))

	prefix := []byte{0x00, 0x10, 0x00, 0x00} // 4096, little-endian
	if _, err := raw.Write(prefix); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := raw.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after oversize frame, got %v", err)
	}
}

func TestNegativeLengthClosesConnection(t *testing.T) {
	testlog.Start(t)
	svc := NewServiceWithConfig(testConfig(), newStubDiscovery("Band A"))
	addr := startService(t, svc)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	_ = raw.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := raw.Write([]byte{0xff, 0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := raw.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after negative length, got %v", err)
	}
}

func TestPushFailureUnpairsDevice(t *testing.T) {
	testlog.Start(t)
	disc := newStubDiscovery("Band A")
	svc := NewServiceWithConfig(testConfig(), disc)
	startService(t, svc)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := dead.Addr().(*net.TCPAddr).Port
	_ = dead.Close()

	ep := registry.Endpoint{Host: "127.0.0.1", Port: uint16(port)}
	if err := svc.Registry().Pair(context.Background(), "Band A", ep); err != nil {
		t.Fatalf("pair: %v", err)
	}
	disc.device("Band A").emit(sensor.Reading{Metric: sensor.MetricGSR, Value: 120000})

	waitFor(t, func() bool {
		_, paired := svc.Registry().Paired("Band A")
		return !paired
	})
	if svc.Registry().IsReading("Band A") {
		t.Fatalf("push failure did not stop sensor reading")
	}
}

func TestPushTimeoutUnpairsDevice(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.PushTimeout = 200 * time.Millisecond
	disc := newStubDiscovery("Band A")
	svc := NewServiceWithConfig(cfg, disc)

	var stalled atomic.Bool
	svc.dialer.ControlContext = func(ctx context.Context, _, _ string, _ syscall.RawConn) error {
		stalled.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}
	startService(t, svc)

	ep, pushes := pushSink(t, svc.Codec())
	if err := svc.Registry().Pair(context.Background(), "Band A", ep); err != nil {
		t.Fatalf("pair: %v", err)
	}
	start := time.Now()
	disc.device("Band A").emit(sensor.Reading{Metric: sensor.MetricHR, Value: 72})

	waitFor(t, func() bool {
		_, paired := svc.Registry().Paired("Band A")
		return !paired
	})
	elapsed := time.Since(start)
	if !stalled.Load() {
		t.Fatalf("push dial never reached the connect hook")
	}
	if elapsed < cfg.PushTimeout/2 || elapsed > cfg.PushTimeout+time.Second {
		t.Fatalf("unpair after %v, want about %v", elapsed, cfg.PushTimeout)
	}
	if svc.Registry().IsReading("Band A") {
		t.Fatalf("push timeout did not stop sensor reading")
	}
	select {
	case env := <-pushes:
		t.Fatalf("sink received %s despite stalled dial", env)
	default:
	}
}

func TestCBORCodecOverLoopback(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Codec = "cbor"
	svc := NewServiceWithConfig(cfg, newStubDiscovery("Band A"))
	addr := startService(t, svc)

	client := NewClient(addr)
	client.Codec = envelope.CBORCodec{}
	resp, err := client.Request(context.Background(), envelope.New(envelope.CodeShowListAsk, nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.String() != envelope.New(envelope.CodeShowListAns, envelope.TextList{"Band A"}).String() {
		t.Fatalf("cbor show list: got %s", resp)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Codec = "xml"
	svc := NewServiceWithConfig(cfg, newStubDiscovery())
	if err := svc.Run(context.Background()); !errors.Is(err, envelope.ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}

	svc = NewServiceWithConfig(testConfig(), nil)
	if err := svc.Run(context.Background()); !errors.Is(err, ErrNilDiscovery) {
		t.Fatalf("expected ErrNilDiscovery, got %v", err)
	}
}

func TestSweepRemovesVanishedDevices(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	disc := newStubDiscovery("Band A", "Band B")
	svc := NewServiceWithConfig(testConfig(), disc)
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	disc.mu.Lock()
	disc.names = []string{"Band B"}
	disc.mu.Unlock()
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	names := svc.Registry().Names()
	if len(names) != 1 || names[0] != "Band B" {
		t.Fatalf("names after sweep: %v", names)
	}

	disc.mu.Lock()
	disc.listErr = errors.New("adapter off")
	disc.mu.Unlock()
	if err := svc.Sweep(ctx); err == nil {
		t.Fatalf("expected list error")
	}
	if len(svc.Registry().Names()) != 1 {
		t.Fatalf("failed sweep changed the registry")
	}
}

func TestTLSListenerServesRequests(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "bandbridge-ca")
	certFile, keyFile := ca.LoopbackServer(t)

	cfg := testConfig()
	cfg.TLS = transport.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}
	svc := NewServiceWithConfig(cfg, newStubDiscovery("Band A"))
	ln, err := cfg.TLS.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunListener(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()
	waitFor(t, func() bool { return svc.Registry().Names() != nil })

	client := NewClient(ln.Addr().String())
	client.TLS = transport.TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	resp, err := client.Request(context.Background(), envelope.New(envelope.CodeShowListAsk, nil))
	if err != nil {
		t.Fatalf("tls request: %v", err)
	}
	if resp.Code != envelope.CodeShowListAns {
		t.Fatalf("tls show list: got %s", resp)
	}

	plain := NewClient(ln.Addr().String())
	plain.Timeout = 500 * time.Millisecond
	if _, err := plain.Request(context.Background(), envelope.New(envelope.CodeShowListAsk, nil)); err == nil {
		t.Fatalf("plain client should not get a response from a tls listener")
	}
}
