package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/bandbridge/internal/bridge"
	"github.com/danmuck/bandbridge/internal/config"
	"github.com/danmuck/bandbridge/internal/sensor/sim"
)

// runtimeConfig is everything main needs after the defaults overlay.
type runtimeConfig struct {
	Service  bridge.ServiceConfig
	Sim      sim.Config
	LogLevel string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Service: bridge.DefaultServiceConfig(),
		Sim:     sim.DefaultConfig(),
	}
}

// loadRuntimeConfig overlays keys present in path onto the defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load bandbridge config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Service.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Service.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("codec") {
		cfg.Service.Codec = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("max_message_size") {
		cfg.Service.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("read_chunk_size") {
		cfg.Service.ReadChunkSize = raw.ReadChunkSize
	}
	if meta.IsDefined("storage_size") {
		cfg.Service.Registry.StorageSize = raw.StorageSize
	}
	if meta.IsDefined("event_buffer") {
		cfg.Service.Registry.EventBuffer = raw.EventBuffer
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"idle_timeout", raw.IdleTimeout, &cfg.Service.IdleTimeout},
		{"push_timeout", raw.PushTimeout, &cfg.Service.PushTimeout},
		{"discovery_interval", raw.DiscoveryInterval, &cfg.Service.DiscoveryInterval},
		{"sim.interval", raw.Sim.Interval, &cfg.Sim.Interval},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := config.ParseDuration(d.raw)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("sim", "devices") {
		cfg.Sim.Devices = raw.Sim.Devices
	}
	if meta.IsDefined("sim", "prefix") {
		cfg.Sim.Prefix = strings.TrimSpace(raw.Sim.Prefix)
	}
	if meta.IsDefined("sim", "seed") {
		cfg.Sim.Seed = raw.Sim.Seed
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.Service.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.Service.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.Service.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.Service.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Service.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load bandbridge config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.Service.WithDefaults().Validate(); err != nil {
		return runtimeConfig{}, fmt.Errorf("load bandbridge config: %w", err)
	}
	return cfg, nil
}
