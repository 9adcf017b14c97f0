package trust

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/ocsp"
)

// OCSP defaults
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = time.Hour
)

// Status is the revocation state a responder reported
type Status string

const (
	StatusGood    Status = "good"
	StatusRevoked Status = "revoked"
	// StatusUnchecked means the certificate names no responder
	StatusUnchecked Status = "unchecked"
)

var errNoResponder = errors.New("certificate names no OCSP responder")

// OCSPClient asks a certificate's OCSP responders for its status and caches
// definite answers per issuer key and serial
type OCSPClient struct {
	http    *resty.Client
	answers *cache.Cache
}

// NewOCSPClient creates a client with a per-request timeout and a cache TTL
func NewOCSPClient(timeout, ttl time.Duration) *OCSPClient {
	if timeout <= 0 {
		timeout = DefaultOCSPTimeout
	}
	if ttl <= 0 {
		ttl = DefaultOCSPCacheTTL
	}
	return &OCSPClient{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/ocsp-request").
			SetHeader("Accept", "application/ocsp-response"),
		answers: cache.New(ttl, 2*ttl),
	}
}

// Status returns the revocation status of cert, trying each responder in turn
func (c *OCSPClient) Status(ctx context.Context, cert, issuer *x509.Certificate) (Status, error) {
	if cert == nil || issuer == nil {
		return "", errors.New("certificate and issuer are required")
	}
	if len(cert.OCSPServer) == 0 {
		return StatusUnchecked, nil
	}

	key := cacheKey(cert, issuer)
	if v, ok := c.answers.Get(key); ok {
		return v.(Status), nil
	}

	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return "", fmt.Errorf("build OCSP request: %w", err)
	}

	var lastErr error = errNoResponder
	for _, url := range cert.OCSPServer {
		status, err := c.ask(ctx, url, req, cert, issuer)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", url, err)
			continue
		}
		c.answers.SetDefault(key, status)
		return status, nil
	}
	return "", lastErr
}

func (c *OCSPClient) ask(ctx context.Context, url string, req []byte, cert, issuer *x509.Certificate) (Status, error) {
	resp, err := c.http.R().SetContext(ctx).SetBody(req).Post(url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("responder returned %d", resp.StatusCode())
	}

	answer, err := ocsp.ParseResponseForCert(resp.Body(), cert, issuer)
	if err != nil {
		return "", fmt.Errorf("parse OCSP response: %w", err)
	}
	switch answer.Status {
	case ocsp.Good:
		return StatusGood, nil
	case ocsp.Revoked:
		return StatusRevoked, nil
	default:
		return "", errors.New("responder does not know the certificate")
	}
}

// Forget drops every cached answer
func (c *OCSPClient) Forget() {
	c.answers.Flush()
}

func cacheKey(cert, issuer *x509.Certificate) string {
	sum := sha256.Sum256(issuer.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:8]) + ":" + cert.SerialNumber.Text(16)
}
