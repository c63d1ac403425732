package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/observability"
	"github.com/danmuck/bandbridge/internal/sensor"
)

var (
	ErrNotFound      = errors.New("registry: device not found")
	ErrAlreadyPaired = errors.New("registry: device paired with another endpoint")
	ErrInvalidTarget = errors.New("registry: invalid pairing endpoint")
)

type deviceSession struct {
	id     uint64
	name   string
	device sensor.Device

	hr  *sensor.Ring
	gsr *sensor.Ring

	lastHR  int
	lastGSR int

	paired  Endpoint
	reading bool
}

func (s *deviceSession) ring(m sensor.Metric) *sensor.Ring {
	if m == sensor.MetricGSR {
		return s.gsr
	}
	return s.hr
}

// Registry is the single owner of device sessions.
type Registry struct {
	mu          sync.RWMutex
	cfg         Config
	sessions    map[string]*deviceSession
	initialized bool

	nextID  atomic.Uint64
	events  chan DeviceReading
	dropped atomic.Uint64
}

func New(cfg Config) *Registry {
	cfg = cfg.WithDefaults()
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*deviceSession),
		events:   make(chan DeviceReading, cfg.EventBuffer),
	}
}

// Events is drained by the task that owns the registry.
func (r *Registry) Events() <-chan DeviceReading {
	return r.events
}

// Dropped counts readings discarded because the event queue was full.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// Reconcile merges a discovery sweep into the session table. Sessions for
// names still present are kept untouched, new names are connected, and
// absent names are stopped and removed. Connecting happens outside the lock;
// the merge is applied in one critical section.
func (r *Registry) Reconcile(ctx context.Context, discovered []string, connect ConnectFunc) error {
	if connect == nil {
		return fmt.Errorf("registry: nil connect func")
	}
	want := make(map[string]struct{}, len(discovered))
	for _, name := range discovered {
		want[name] = struct{}{}
	}

	r.mu.RLock()
	missing := make([]string, 0)
	for name := range want {
		if _, ok := r.sessions[name]; !ok {
			missing = append(missing, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(missing)

	fresh := make([]*deviceSession, 0, len(missing))
	for _, name := range missing {
		id := r.nextID.Add(1)
		dev, err := connect(ctx, name, r.emitter(name, id))
		if err != nil {
			logging.Warnf("registry.Reconcile connect device=%q err=%v", name, err)
			continue
		}
		if dev == nil {
			continue
		}
		fresh = append(fresh, &deviceSession{
			id:     id,
			name:   name,
			device: dev,
			hr:     sensor.NewRing(r.cfg.StorageSize),
			gsr:    sensor.NewRing(r.cfg.StorageSize),
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name, s := range r.sessions {
		if _, ok := want[name]; ok {
			continue
		}
		r.stopLocked(ctx, s)
		if err := s.device.Close(); err != nil {
			logging.Warnf("registry.Reconcile close device=%q err=%v", name, err)
		}
		delete(r.sessions, name)
		removed++
	}
	added := 0
	for _, s := range fresh {
		if _, ok := r.sessions[s.name]; ok {
			// a concurrent sweep won the insert
			_ = s.device.Close()
			continue
		}
		r.sessions[s.name] = s
		added++
	}
	r.initialized = true
	r.publishLocked()
	if added > 0 || removed > 0 {
		logging.Infof("registry.Reconcile devices=%d added=%d removed=%d", len(r.sessions), added, removed)
	}
	return nil
}

// Pair binds name to ep and starts sensor reading. Pairing the endpoint a
// device is already bound to is a no-op success.
func (r *Registry) Pair(ctx context.Context, name string, ep Endpoint) error {
	if ep.Host == "" || ep.Port == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, ep.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !s.paired.IsZero() && s.paired != ep {
		return fmt.Errorf("%w: device=%q endpoint=%s", ErrAlreadyPaired, name, s.paired)
	}
	s.paired = ep
	r.startLocked(ctx, s)
	r.publishLocked()
	logging.Infof("registry.Pair device=%q endpoint=%s", name, ep)
	return nil
}

// Free clears the pairing for name and stops reading. Unknown or unpaired
// names are a no-op.
func (r *Registry) Free(ctx context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return
	}
	if !s.paired.IsZero() {
		logging.Infof("registry.Free device=%q endpoint=%s", name, s.paired)
	}
	s.paired = Endpoint{}
	r.stopLocked(ctx, s)
	r.publishLocked()
}

// Unpair clears the pairing only while name is still bound to ep. It is the
// push-failure path, so a stale failure never undoes a newer pairing.
func (r *Registry) Unpair(ctx context.Context, name string, ep Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok || s.paired != ep {
		return false
	}
	s.paired = Endpoint{}
	r.stopLocked(ctx, s)
	r.publishLocked()
	return true
}

// Apply records one reading and returns the push target when paired.
func (r *Registry) Apply(ev DeviceReading) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[ev.Device]
	if !ok || (ev.session != 0 && s.id != ev.session) {
		return Endpoint{}, false
	}
	if !ev.Reading.Metric.Valid() {
		return Endpoint{}, false
	}
	s.ring(ev.Reading.Metric).Push(ev.Reading.Value)
	switch ev.Reading.Metric {
	case sensor.MetricHR:
		s.lastHR = ev.Reading.Value
	case sensor.MetricGSR:
		s.lastGSR = ev.Reading.Value
	}
	if s.paired.IsZero() {
		return Endpoint{}, false
	}
	return s.paired, true
}

// Names returns the tracked device names in order, or nil before the first
// discovery sweep.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil
	}
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CurrentReadings returns the smoothed HR and GSR values for name.
func (r *Registry) CurrentReadings(name string) (Averages, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok {
		return Averages{}, false
	}
	return averagesOf(s), true
}

// Paired returns the endpoint name is bound to.
func (r *Registry) Paired(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok || s.paired.IsZero() {
		return Endpoint{}, false
	}
	return s.paired, true
}

// IsReading reports whether the sensors of name were started by a pairing.
func (r *Registry) IsReading(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return ok && s.reading
}

// Sessions returns a presentation snapshot ordered by name.
func (r *Registry) Sessions() []SessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionView, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionView{
			Name:      s.name,
			Paired:    s.paired.String(),
			Reading:   s.reading,
			LastHR:    s.lastHR,
			LastGSR:   s.lastGSR,
			Averages:  averagesOf(s),
			HRSamples: s.hr.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Resize clears every ring and applies a new capacity.
func (r *Registry) Resize(storageSize int) {
	if storageSize <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.StorageSize = storageSize
	for _, s := range r.sessions {
		s.hr.Resize(storageSize)
		s.gsr.Resize(storageSize)
	}
}

// Close stops and closes every device and empties the table.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.sessions {
		r.stopLocked(ctx, s)
		if err := s.device.Close(); err != nil {
			logging.Warnf("registry.Close device=%q err=%v", name, err)
		}
		delete(r.sessions, name)
	}
	r.publishLocked()
}

func (r *Registry) emitter(name string, id uint64) sensor.Emit {
	return func(reading sensor.Reading) {
		ev := DeviceReading{Device: name, Reading: reading, At: time.Now(), session: id}
		select {
		case r.events <- ev:
		default:
			n := r.dropped.Add(1)
			observability.RecordDroppedReading()
			if n == 1 || n%100 == 0 {
				logging.Warnf("registry.emit queue full device=%q dropped_total=%d", name, n)
			}
		}
	}
}

func (r *Registry) startLocked(ctx context.Context, s *deviceSession) {
	if s.reading {
		return
	}
	for _, m := range sensor.Metrics {
		if err := s.device.StartReading(ctx, m); err != nil {
			logging.Warnf("registry.start device=%q metric=%s err=%v", s.name, m, err)
		}
	}
	s.reading = true
}

func (r *Registry) stopLocked(ctx context.Context, s *deviceSession) {
	if !s.reading {
		return
	}
	for _, m := range sensor.Metrics {
		if err := s.device.StopReading(ctx, m); err != nil {
			logging.Warnf("registry.stop device=%q metric=%s err=%v", s.name, m, err)
		}
	}
	s.reading = false
}

func (r *Registry) publishLocked() {
	paired := 0
	for _, s := range r.sessions {
		if !s.paired.IsZero() {
			paired++
		}
	}
	observability.SetSessions(len(r.sessions), paired)
}

func averagesOf(s *deviceSession) Averages {
	var out Averages
	if v, err := s.hr.Average(); err == nil {
		out.HR, out.HRValid = v, true
	}
	if v, err := s.gsr.Average(); err == nil {
		out.GSR, out.GSRValid = v, true
	}
	return out
}
