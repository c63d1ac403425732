package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/bandbridge/internal/bridge"
	"github.com/danmuck/bandbridge/internal/protocol/envelope"
)

type probeCase struct {
	name string
	req  envelope.Envelope
	want envelope.Code
}

type probeResult struct {
	name string
	resp envelope.Envelope
	err  error
	ok   bool
}

// probeCases are the request variants sent against a live bridge. device is
// the first name from SHOW_LIST, or empty when the bridge has none.
func probeCases(device string) []probeCase {
	cases := []probeCase{
		{"show_list null", envelope.New(envelope.CodeShowListAsk, nil), envelope.CodeShowListAns},
		{"show_list int", envelope.New(envelope.CodeShowListAsk, envelope.Int(42)), envelope.CodeShowListAns},
		{"get_data null", envelope.New(envelope.CodeGetDataAsk, nil), envelope.CodeCtrl},
		{"get_data int", envelope.New(envelope.CodeGetDataAsk, envelope.Int(42)), envelope.CodeCtrl},
		{"get_data unknown", envelope.New(envelope.CodeGetDataAsk, envelope.Text("no such band")), envelope.CodeGetDataAns},
		{"get_data_ans null", envelope.New(envelope.CodeGetDataAns, nil), envelope.CodeCtrl},
		{"ctrl null", envelope.Ctrl(), envelope.CodeCtrl},
	}
	if device != "" {
		cases = append(cases, probeCase{
			"get_data device", envelope.New(envelope.CodeGetDataAsk, envelope.Text(device)), envelope.CodeGetDataAns,
		})
	}
	return cases
}

// runProbe sends every case on one connection and reports each response.
func runProbe(ctx context.Context, client *bridge.Client, out io.Writer) ([]probeResult, error) {
	conn, err := client.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	list, err := conn.Request(envelope.New(envelope.CodeShowListAsk, nil))
	if err != nil {
		return nil, err
	}
	device := ""
	if names, ok := list.Body().(envelope.TextList); ok && len(names) > 0 {
		device = names[0]
	}

	cases := probeCases(device)
	results := make([]probeResult, 0, len(cases))
	for _, tc := range cases {
		resp, err := conn.Request(tc.req)
		res := probeResult{name: tc.name, resp: resp, err: err, ok: err == nil && resp.Code == tc.want}
		results = append(results, res)
		switch {
		case err != nil:
			fmt.Fprintf(out, "FAIL %-18s %s -> err=%v\n", tc.name, tc.req, err)
			return results, err
		case res.ok:
			fmt.Fprintf(out, "ok   %-18s %s -> %s\n", tc.name, tc.req, resp)
		default:
			fmt.Fprintf(out, "FAIL %-18s %s -> %s (want %s)\n", tc.name, tc.req, resp, tc.want)
		}
	}
	return results, nil
}

// runPairWatch pairs device with a local push listener, prints count pushes,
// and frees the device.
func runPairWatch(ctx context.Context, client *bridge.Client, device, listenHost string, count int, out io.Writer) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(listenHost, "0"))
	if err != nil {
		return err
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	resp, err := client.Request(ctx, envelope.New(envelope.CodePairAsk, envelope.PairRequest{
		Device: device,
		Host:   listenHost,
		Port:   uint16(port),
	}))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pair %q -> %s\n", device, resp)
	if paired, ok := resp.Body().(envelope.Bool); !ok || !bool(paired) {
		return fmt.Errorf("pair rejected for %q", device)
	}
	defer func() {
		freeCtx, cancel := context.WithTimeout(context.Background(), client.Timeout)
		defer cancel()
		if resp, err := client.Request(freeCtx, envelope.New(envelope.CodeFreeAsk, envelope.Text(device))); err == nil {
			fmt.Fprintf(out, "free %q -> %s\n", device, resp)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for i := 0; i < count; i++ {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(client.Timeout))
		push, err := bridge.ReadEnvelope(conn, client.Codec, client.MaxMessageSize)
		_ = conn.Close()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "push %d/%d %s\n", i+1, count, push)
	}
	return nil
}
