package bridge

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/protocol/frame"
	"github.com/danmuck/bandbridge/internal/transport"
)

// Client sends request envelopes to a bridge.
type Client struct {
	Addr           string
	Codec          envelope.Codec
	MaxMessageSize int
	Timeout        time.Duration
	TLS            transport.TLSConfig
}

func NewClient(addr string) *Client {
	return &Client{
		Addr:           addr,
		Codec:          envelope.TLVCodec{},
		MaxMessageSize: frame.DefaultMaxMessageSize,
		Timeout:        3 * time.Second,
	}
}

// Conn is one request connection. Requests on a Conn are sequential.
type Conn struct {
	conn    net.Conn
	codec   envelope.Codec
	max     int
	timeout time.Duration
}

func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	if c.TLS.Enabled {
		tlsCfg, err := c.TLS.ClientConfig(c.Addr)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		tlsConn := tls.Client(conn, tlsCfg)
		hsCtx := ctx
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	codec := c.Codec
	if codec == nil {
		codec = envelope.TLVCodec{}
	}
	return &Conn{conn: conn, codec: codec, max: c.MaxMessageSize, timeout: c.Timeout}, nil
}

// Request dials, sends req, waits for one response, and closes.
func (c *Client) Request(ctx context.Context, req envelope.Envelope) (envelope.Envelope, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return envelope.Envelope{}, err
	}
	defer conn.Close()
	return conn.Request(req)
}

func (c *Conn) Request(req envelope.Envelope) (envelope.Envelope, error) {
	c.deadline()
	if err := WriteEnvelope(c.conn, c.codec, req, c.max); err != nil {
		return envelope.Envelope{}, err
	}
	return ReadEnvelope(c.conn, c.codec, c.max)
}

func (c *Conn) Keepalive() error {
	c.deadline()
	_, err := c.conn.Write(frame.EncodeKeepalive())
	return err
}

// Raw writes b unframed, for probing malformed input.
func (c *Conn) Raw(b []byte) error {
	c.deadline()
	_, err := c.conn.Write(b)
	return err
}

// Read waits for the next response envelope.
func (c *Conn) Read() (envelope.Envelope, error) {
	c.deadline()
	return ReadEnvelope(c.conn, c.codec, c.max)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) deadline() {
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}
