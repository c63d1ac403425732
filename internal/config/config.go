package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// File is the bandbridge config.toml layout.
type File struct {
	Addr              string  `toml:"addr"`
	AdminListenAddr   string  `toml:"admin_listen_addr"`
	AdminToken        string  `toml:"admin_token"`
	Codec             string  `toml:"codec"`
	MaxMessageSize    int     `toml:"max_message_size"`
	ReadChunkSize     int     `toml:"read_chunk_size"`
	IdleTimeout       string  `toml:"idle_timeout"`
	PushTimeout       string  `toml:"push_timeout"`
	DiscoveryInterval string  `toml:"discovery_interval"`
	StorageSize       int     `toml:"storage_size"`
	EventBuffer       int     `toml:"event_buffer"`
	LogLevel          string  `toml:"log_level"`
	Sim               SimFile `toml:"sim"`
	TLS               TLSFile `toml:"tls"`
}

type TLSFile struct {
	Enabled  bool   `toml:"enabled"`
	Mutual   bool   `toml:"mutual"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

type SimFile struct {
	Devices  int    `toml:"devices"`
	Prefix   string `toml:"prefix"`
	Interval string `toml:"interval"`
	Seed     int64  `toml:"seed"`
}

func DefaultFile() File {
	return File{
		Addr:              ":2055",
		AdminListenAddr:   "",
		Codec:             "tlv",
		MaxMessageSize:    2048,
		ReadChunkSize:     256,
		IdleTimeout:       "30s",
		PushTimeout:       "3s",
		DiscoveryInterval: "30s",
		StorageSize:       30,
		EventBuffer:       256,
		LogLevel:          "info",
		Sim: SimFile{
			Devices:  6,
			Prefix:   "Fake Band",
			Interval: "1s",
		},
	}
}

// Validate decodes path strictly: unknown keys and malformed durations fail.
func Validate(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	out := DefaultFile()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateFile(out); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return out, nil
}

func ValidateFile(f File) error {
	if strings.TrimSpace(f.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if f.ReadChunkSize <= 0 {
		return fmt.Errorf("read_chunk_size must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(f.Codec)) {
	case "", "tlv", "cbor":
	default:
		return fmt.Errorf("codec must be tlv or cbor, got %q", f.Codec)
	}
	for key, raw := range map[string]string{
		"idle_timeout":       f.IdleTimeout,
		"push_timeout":       f.PushTimeout,
		"discovery_interval": f.DiscoveryInterval,
		"sim.interval":       f.Sim.Interval,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if f.Sim.Devices < 0 {
		return fmt.Errorf("sim.devices must not be negative")
	}
	if f.TLS.Mutual && !f.TLS.Enabled {
		return fmt.Errorf("tls.mutual requires tls.enabled")
	}
	if f.TLS.Enabled && (strings.TrimSpace(f.TLS.CertFile) == "" || strings.TrimSpace(f.TLS.KeyFile) == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.enabled")
	}
	return nil
}

// ParseDuration accepts Go duration strings; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
