package dedup

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names the PEM files for a mutual-TLS etcd connection.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// ClientConfig loads the key pair and CA. A nil receiver yields a nil
// config.
func (c *TLSConfig) ClientConfig() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}
	var errs []error
	if c.CertFile == "" {
		errs = append(errs, errors.New("tls cert_file is required"))
	}
	if c.KeyFile == "" {
		errs = append(errs, errors.New("tls key_file is required"))
	}
	if c.CAFile == "" {
		errs = append(errs, errors.New("tls ca_file is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	caData, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
