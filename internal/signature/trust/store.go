// Package trust holds the trusted roots and revocation checks used when
// verifying signed invoices.
package trust

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Store holds the roots a signer's certificate must chain to
type Store struct {
	mu       sync.RWMutex
	pool     *x509.CertPool
	roots    []*x509.Certificate
	ocsp     *OCSPClient
	softFail bool
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store) error

// NewStore creates a store without roots and applies opts
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		pool: x509.NewCertPool(),
		ocsp: NewOCSPClient(DefaultOCSPTimeout, DefaultOCSPCacheTTL),
		now:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithSoftFail accepts certificates whose responder cannot be reached
func WithSoftFail() Option {
	return func(s *Store) error {
		s.softFail = true
		return nil
	}
}

// WithOCSPClient replaces the default revocation client
func WithOCSPClient(c *OCSPClient) Option {
	return func(s *Store) error {
		s.ocsp = c
		return nil
	}
}

// WithClock sets the time chains are validated at
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// WithPEMFile trusts every certificate in a PEM bundle
func WithPEMFile(path string) Option {
	return func(s *Store) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read trust bundle %s: %w", path, err)
		}
		return s.AddPEM(data)
	}
}

// Add trusts cert as a root
func (s *Store) Add(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.AddCert(cert)
	s.roots = append(s.roots, cert)
}

// AddPEM trusts every CERTIFICATE block in data; other blocks are ignored
func (s *Store) AddPEM(data []byte) error {
	var certs []*x509.Certificate
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("parse trusted certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return errors.New("no certificates in trust bundle")
	}
	for _, c := range certs {
		s.Add(c)
	}
	return nil
}

// Len returns the number of trusted roots
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roots)
}

// Roots returns a copy of the trusted roots
func (s *Store) Roots() []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*x509.Certificate(nil), s.roots...)
}

// Chain builds a chain from cert to a trusted root, leaf first
func (s *Store) Chain(cert *x509.Certificate, intermediates []*x509.Certificate) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, errors.New("no signing certificate")
	}
	inter := x509.NewCertPool()
	for _, c := range intermediates {
		inter.AddCert(c)
	}

	s.mu.RLock()
	roots := s.pool
	s.mu.RUnlock()

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, err
	}
	return chains[0], nil
}

// Revocation asks the responder of cert. With soft-fail an unreachable
// responder yields StatusUnchecked together with the error.
func (s *Store) Revocation(ctx context.Context, cert, issuer *x509.Certificate) (Status, error) {
	status, err := s.ocsp.Status(ctx, cert, issuer)
	if err != nil && s.softFail && cert != nil && issuer != nil {
		return StatusUnchecked, err
	}
	return status, err
}

// SoftFail reports whether unreachable responders are tolerated
func (s *Store) SoftFail() bool {
	return s.softFail
}
