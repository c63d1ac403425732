package registry

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/bandbridge/internal/sensor"
)

// Endpoint is the remote client address a device's readings are pushed to.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) IsZero() bool {
	return strings.TrimSpace(e.Host) == "" && e.Port == 0
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

func (e Endpoint) String() string {
	if e.IsZero() {
		return ""
	}
	return e.Addr()
}

// DeviceReading is one reading enqueued by a device for the owning task.
type DeviceReading struct {
	Device  string
	Reading sensor.Reading
	At      time.Time

	session uint64
}

// ConnectFunc opens a device and wires its readings to emit.
type ConnectFunc func(ctx context.Context, name string, emit sensor.Emit) (sensor.Device, error)

// Averages are the smoothed values for one device. A metric without any
// positive sample is reported with Valid=false and a zero value.
type Averages struct {
	HR       int  `json:"hr"`
	GSR      int  `json:"gsr"`
	HRValid  bool `json:"hr_valid"`
	GSRValid bool `json:"gsr_valid"`
}

// SessionView is a read-only snapshot of one session for presentation.
type SessionView struct {
	Name      string   `json:"name"`
	Paired    string   `json:"paired,omitempty"`
	Reading   bool     `json:"reading"`
	LastHR    int      `json:"last_hr"`
	LastGSR   int      `json:"last_gsr"`
	Averages  Averages `json:"averages"`
	HRSamples int      `json:"hr_samples"`
}

// Config sizes the rings and the event queue.
type Config struct {
	StorageSize int
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		StorageSize: 30,
		EventBuffer: 256,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.StorageSize <= 0 {
		c.StorageSize = def.StorageSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}
