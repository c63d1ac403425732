package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/protocol/frame"
	"github.com/danmuck/bandbridge/internal/registry"
	"github.com/danmuck/bandbridge/internal/transport"
)

var (
	ErrNilDiscovery     = errors.New("bridge: discovery is required")
	ErrInvalidChunkSize = errors.New("bridge: read chunk size must be positive")
)

// ServiceConfig configures the listener, wire limits, and background loops.
type ServiceConfig struct {
	ListenAddr        string
	AdminListenAddr   string
	AdminToken        string
	Codec             string
	MaxMessageSize    int
	ReadChunkSize     int
	IdleTimeout       time.Duration
	PushTimeout       time.Duration
	DiscoveryInterval time.Duration
	Registry          registry.Config
	TLS               transport.TLSConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:        ":2055",
		AdminListenAddr:   "",
		Codec:             "tlv",
		MaxMessageSize:    frame.DefaultMaxMessageSize,
		ReadChunkSize:     256,
		IdleTimeout:       0,
		PushTimeout:       3 * time.Second,
		DiscoveryInterval: 30 * time.Second,
		Registry:          registry.DefaultConfig(),
	}
}

// WithDefaults fills zero values that have no meaningful zero behavior.
// MaxMessageSize, IdleTimeout, and DiscoveryInterval keep their zero meaning.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.Codec) == "" {
		c.Codec = def.Codec
	}
	if c.ReadChunkSize == 0 {
		c.ReadChunkSize = def.ReadChunkSize
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = def.PushTimeout
	}
	c.Registry = c.Registry.WithDefaults()
	return c
}

func (c ServiceConfig) Validate() error {
	if c.ReadChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.ReadChunkSize)
	}
	if _, err := envelope.CodecByName(c.Codec); err != nil {
		return err
	}
	return c.TLS.ValidateServer()
}
