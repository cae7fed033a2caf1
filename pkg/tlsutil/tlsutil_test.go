package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/errors"
)

// writeSelfSigned writes a localhost certificate and key into dir.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))

	tests := []struct {
		name        string
		cfg         ServerConfig
		wantErr     bool
		wantInvalid bool
		wantAuth    tls.ClientAuthType
		wantMin     uint16
	}{
		{"plain", ServerConfig{CertFile: certFile, KeyFile: keyFile}, false, false, tls.NoClientCert, tls.VersionTLS12},
		{"tls13", ServerConfig{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"}, false, false, tls.NoClientCert, tls.VersionTLS13},
		{"optional client certs", ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile}, false, false, tls.VerifyClientCertIfGiven, tls.VersionTLS12},
		{"required client certs", ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile, RequireClientCert: true}, false, false, tls.RequireAndVerifyClientCert, tls.VersionTLS12},
		{"missing files", ServerConfig{}, true, true, 0, 0},
		{"unreadable cert", ServerConfig{CertFile: filepath.Join(dir, "nope.pem"), KeyFile: keyFile}, true, false, 0, 0},
		{"bad client ca", ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: garbage}, true, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadServerConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantInvalid, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, cfg.Certificates, 1)
			assert.Equal(t, tt.wantAuth, cfg.ClientAuth)
			assert.Equal(t, tt.wantMin, cfg.MinVersion)
		})
	}
}

func TestHandshake(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir())
	serverCfg, err := LoadServerConfig(ServerConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	clientCfg, err := LoadClientConfig("", certFile)
	require.NoError(t, err)
	clientCfg.ServerName = "localhost"

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("namos"))
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer conn.Close()
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "namos", string(got))
}

func TestLoadCAPoolMissingFile(t *testing.T) {
	_, err := LoadCAPool(x509.NewCertPool(), filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
