package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/bandbridge/internal/bridge"
	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/sensor/sim"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bandbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		addr       string
		adminAddr  string
		devices    int
	)
	flagSet := pflag.NewFlagSet("bandbridge", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config.toml (defaults apply when empty)")
	flagSet.StringVar(&addr, "addr", "", "override the request listen address")
	flagSet.StringVar(&adminAddr, "admin-addr", "", "override the admin HTTP listen address")
	flagSet.IntVar(&devices, "devices", -1, "override the number of simulated devices")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logging.ConfigureRuntime()

	cfg := defaultRuntimeConfig()
	if configPath != "" {
		loaded, err := loadRuntimeConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		logging.SetLevel(lvl)
	}
	if flagSet.Changed("addr") {
		cfg.Service.ListenAddr = addr
	}
	if flagSet.Changed("admin-addr") {
		cfg.Service.AdminListenAddr = adminAddr
	}
	if flagSet.Changed("devices") {
		cfg.Sim.Devices = devices
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	discovery := sim.NewDiscovery(cfg.Sim)
	svc := bridge.NewServiceWithConfig(cfg.Service, discovery)
	logging.Infof(
		"bandbridge.main starting addr=%q admin=%q codec=%s sim_devices=%d",
		cfg.Service.ListenAddr,
		cfg.Service.AdminListenAddr,
		cfg.Service.Codec,
		cfg.Sim.Devices,
	)
	return svc.Run(ctx)
}
