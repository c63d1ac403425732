// Package transport builds TLS configuration for bridge listeners and clients.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrTLSRequired             = errors.New("transport: tls required")
	ErrTLSCertFileRequired     = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired       = errors.New("transport: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("transport: insecure skip verify not allowed with mutual tls")
)

// TLSConfig is the file-based TLS policy for one side of a connection.
// The zero value is plain TCP.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

func (c TLSConfig) ValidateServer() error {
	if c.Mutual && !c.Enabled {
		return ErrTLSRequired
	}
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	if c.Mutual && strings.TrimSpace(c.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

func (c TLSConfig) ValidateClient() error {
	if c.Mutual && !c.Enabled {
		return ErrTLSRequired
	}
	if !c.Enabled {
		return nil
	}
	if c.Mutual && c.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	if strings.TrimSpace(c.CAFile) == "" && !c.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.Mutual {
		if strings.TrimSpace(c.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// ServerConfig loads the listener certificate and, for mutual TLS, the
// client CA pool.
func (c TLSConfig) ServerConfig() (*tls.Config, error) {
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if c.Mutual {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// ClientConfig builds the dialer side for addr. ServerName defaults to the
// host part of addr.
func (c TLSConfig) ClientConfig(addr string) (*tls.Config, error) {
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	serverName := strings.TrimSpace(c.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.CAFile); caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if c.Mutual {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Listen opens a TCP listener, wrapped in TLS when enabled.
func (c TLSConfig) Listen(addr string) (net.Listener, error) {
	if !c.Enabled {
		if err := c.ValidateServer(); err != nil {
			return nil, err
		}
		return net.Listen("tcp", addr)
	}
	cfg, err := c.ServerConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, cfg)
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("transport: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
