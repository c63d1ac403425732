// Package sim provides simulated peripherals for development and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/bandbridge/internal/sensor"
)

var (
	ErrUnknownDevice = errors.New("sim: unknown device")
	ErrClosed        = errors.New("sim: device closed")
)

// Config shapes the simulated fleet.
type Config struct {
	Devices  int
	Prefix   string
	Interval time.Duration
	Seed     int64
}

func DefaultConfig() Config {
	return Config{
		Devices:  6,
		Prefix:   "Fake Band",
		Interval: time.Second,
		Seed:     time.Now().UnixNano(),
	}
}

// Discovery lists Prefix 1..Devices and connects simulated devices.
type Discovery struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand
}

func NewDiscovery(cfg Config) *Discovery {
	def := DefaultConfig()
	if cfg.Devices < 0 {
		cfg.Devices = 0
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Discovery{cfg: cfg, rng: rand.New(rand.NewPCG(uint64(cfg.Seed), 0))}
}

// SetDevices changes how many devices later sweeps report.
func (d *Discovery) SetDevices(n int) {
	if n < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Devices = n
}

func (d *Discovery) ListAvailable(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.namesLocked(), nil
}

func (d *Discovery) Connect(ctx context.Context, name string, emit sensor.Emit) (sensor.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.namesLocked(), name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return &Device{
		name:     name,
		interval: d.cfg.Interval,
		seed:     d.rng.Int64(),
		emit:     emit,
		running:  make(map[sensor.Metric]chan struct{}),
	}, nil
}

func (d *Discovery) namesLocked() []string {
	names := make([]string, 0, d.cfg.Devices)
	for i := 1; i <= d.cfg.Devices; i++ {
		names = append(names, fmt.Sprintf("%s %d", d.cfg.Prefix, i))
	}
	return names
}

// Device emits pseudo-random readings for each started metric.
type Device struct {
	name     string
	interval time.Duration
	seed     int64
	emit     sensor.Emit

	mu      sync.Mutex
	running map[sensor.Metric]chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func (d *Device) Name() string { return d.name }

func (d *Device) StartReading(_ context.Context, m sensor.Metric) error {
	if !m.Valid() {
		return fmt.Errorf("sim: %s: unsupported metric %s", d.name, m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.running[m]; ok {
		return nil
	}
	stop := make(chan struct{})
	d.running[m] = stop
	d.wg.Add(1)
	go d.run(m, stop, rand.New(rand.NewPCG(uint64(d.seed), uint64(m))))
	return nil
}

func (d *Device) StopReading(_ context.Context, m sensor.Metric) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stop, ok := d.running[m]; ok {
		close(stop)
		delete(d.running, m)
	}
	return nil
}

// Reading reports whether metric m is currently being sampled.
func (d *Device) Reading(m sensor.Metric) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[m]
	return ok
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for m, stop := range d.running {
		close(stop)
		delete(d.running, m)
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

func (d *Device) run(m sensor.Metric, stop <-chan struct{}, rng *rand.Rand) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if d.emit != nil {
				d.emit(sensor.Reading{Metric: m, Value: sample(m, rng)})
			}
		}
	}
}

func sample(m sensor.Metric, rng *rand.Rand) int {
	switch m {
	case sensor.MetricHR:
		return 60 + rng.IntN(40)
	case sensor.MetricGSR:
		return 100000 + rng.IntN(300000)
	default:
		return 0
	}
}
