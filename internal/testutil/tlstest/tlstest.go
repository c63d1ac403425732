// Package tlstest issues throwaway certificates for TLS tests.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Authority is a self-signed CA writing PEM files into one directory.
type Authority struct {
	dir    string
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	caPath string
	serial atomic.Int64
}

func NewAuthority(t testing.TB, dir string, commonName string) *Authority {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	caPath := filepath.Join(dir, "ca.crt")
	writePEM(t, caPath, "CERTIFICATE", der, 0o644)

	a := &Authority{dir: dir, cert: cert, key: key, caPath: caPath}
	a.serial.Store(1)
	return a
}

func (a *Authority) CAFile() string {
	return a.caPath
}

// IssueServerCert returns cert and key paths valid for dnsNames and ips.
func (a *Authority) IssueServerCert(t testing.TB, dir string, commonName string, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()
	return a.issue(t, dir, commonName, x509.ExtKeyUsageServerAuth, dnsNames, ips)
}

func (a *Authority) IssueClientCert(t testing.TB, dir string, commonName string) (string, string) {
	t.Helper()
	return a.issue(t, dir, commonName, x509.ExtKeyUsageClientAuth, nil, nil)
}

// LoopbackServer issues a server certificate for localhost and 127.0.0.1.
func (a *Authority) LoopbackServer(t testing.TB) (string, string) {
	t.Helper()
	return a.IssueServerCert(t, a.dir, "localhost", []string{"localhost"}, []net.IP{net.IPv4(127, 0, 0, 1)})
}

func (a *Authority) issue(t testing.TB, dir, commonName string, usage x509.ExtKeyUsage, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()
	if dir == "" {
		dir = a.dir
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(a.serial.Add(1)),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	base := fileBase(commonName)
	certPath := filepath.Join(dir, base+".crt")
	keyPath := filepath.Join(dir, base+".key")
	writePEM(t, certPath, "CERTIFICATE", der, 0o644)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER, 0o600)
	return certPath, keyPath
}

func writePEM(t testing.TB, path, blockType string, der []byte, perm os.FileMode) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fileBase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "cert"
	}
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}
