// Package tlsutil builds tls.Config values from certificate files.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/openstack-archive/namos/errors"
)

// ServerConfig names the files a TLS listener needs.
type ServerConfig struct {
	CertFile   string
	KeyFile    string
	MinVersion string
	// ClientCAFile enables client certificate verification when set.
	ClientCAFile      string
	RequireClientCert bool
}

// LoadServerConfig creates a tls.Config for an HTTP listener.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "LoadServerConfig",
			"cert_file and key_file are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}
	if cfg.ClientCAFile == "" {
		return tlsConfig, nil
	}

	pool, err := LoadCAPool(x509.NewCertPool(), cfg.ClientCAFile)
	if err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = pool
	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

// LoadClientConfig creates a tls.Config trusting the system roots plus
// caFiles.
func LoadClientConfig(minVersion string, caFiles ...string) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	roots, err = LoadCAPool(roots, caFiles...)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		RootCAs:    roots,
		MinVersion: parseTLSVersion(minVersion),
	}, nil
}

// LoadCAPool appends the PEM certificates in files to pool.
func LoadCAPool(pool *x509.CertPool, files ...string) (*x509.CertPool, error) {
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadCAPool", "read CA file "+file)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, errors.WrapInvalid(fmt.Errorf("no PEM certificates in %s", file),
				"tlsutil", "LoadCAPool", "parse CA file")
		}
	}
	return pool, nil
}

func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
