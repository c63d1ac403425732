package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/bandbridge/internal/bridge"
	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/transport"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bandprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		addr       string
		codecName  string
		timeout    time.Duration
		pair       string
		listenHost string
		pushes     int
		tlsCfg     transport.TLSConfig
	)
	flagSet := pflag.NewFlagSet("bandprobe", pflag.ContinueOnError)
	flagSet.StringVarP(&addr, "addr", "a", "127.0.0.1:2055", "bridge request address")
	flagSet.StringVar(&codecName, "codec", "tlv", "envelope codec: tlv | cbor")
	flagSet.DurationVar(&timeout, "timeout", 3*time.Second, "per-request timeout")
	flagSet.StringVar(&pair, "pair", "", "pair this device with a local listener and print pushes")
	flagSet.StringVar(&listenHost, "listen-host", "127.0.0.1", "host the bridge should push to")
	flagSet.IntVar(&pushes, "pushes", 5, "number of pushes to wait for with --pair")
	flagSet.BoolVar(&tlsCfg.Enabled, "tls", false, "dial the bridge over TLS")
	flagSet.StringVar(&tlsCfg.CAFile, "tls-ca", "", "CA bundle used to verify the bridge")
	flagSet.StringVar(&tlsCfg.CertFile, "tls-cert", "", "client certificate for mutual TLS")
	flagSet.StringVar(&tlsCfg.KeyFile, "tls-key", "", "client key for mutual TLS")
	flagSet.BoolVar(&tlsCfg.InsecureSkipVerify, "tls-insecure", false, "skip bridge certificate verification")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	codec, err := envelope.CodecByName(codecName)
	if err != nil {
		return err
	}
	client := bridge.NewClient(addr)
	client.Codec = codec
	client.Timeout = timeout
	tlsCfg.Mutual = tlsCfg.CertFile != ""
	client.TLS = tlsCfg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if pair != "" {
		return runPairWatch(ctx, client, pair, listenHost, pushes, os.Stdout)
	}

	results, err := runProbe(ctx, client, os.Stdout)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if !r.ok {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, len(results))
	}
	return nil
}
