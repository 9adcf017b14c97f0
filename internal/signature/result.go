package signature

import (
	"crypto/x509"
	"time"
)

// Check is the outcome of one verification step
type Check string

const (
	CheckPassed  Check = "passed"
	CheckFailed  Check = "failed"
	CheckSkipped Check = "skipped"
)

// Report is the outcome of verifying one signed invoice
type Report struct {
	Valid  bool `json:"valid"`
	Signed bool `json:"signed"`

	// Integrity covers the digest and the SignedInfo signature
	Integrity  Check `json:"integrity"`
	Trust      Check `json:"trust"`
	Revocation Check `json:"revocation"`

	Signer   *Signer    `json:"signer,omitempty"`
	SignedAt *time.Time `json:"signedAt,omitempty"`

	Problems []Problem `json:"problems,omitempty"`

	Chain []*x509.Certificate `json:"-"`
}

// Problem is one failed or degraded check. Notes do not affect validity.
type Problem struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Note    bool   `json:"note,omitempty"`
}

// Signer identifies the signing certificate
type Signer struct {
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	Serial       string    `json:"serial"`
	Issuer       string    `json:"issuer"`
	NotBefore    time.Time `json:"notBefore"`
	NotAfter     time.Time `json:"notAfter"`
}

// NewReport starts with every check skipped
func NewReport() *Report {
	return &Report{Integrity: CheckSkipped, Trust: CheckSkipped, Revocation: CheckSkipped}
}

// Fail records a problem that makes the signature unacceptable
func (r *Report) Fail(code Code, msg string) {
	r.Problems = append(r.Problems, Problem{Code: code, Message: msg})
}

// Note records a problem that leaves the signature acceptable
func (r *Report) Note(code Code, msg string) {
	r.Problems = append(r.Problems, Problem{Code: code, Message: msg, Note: true})
}

// Errors lists the messages of all failing problems
func (r *Report) Errors() []string {
	return r.messages(false)
}

// Notes lists the messages of all non-failing problems
func (r *Report) Notes() []string {
	return r.messages(true)
}

func (r *Report) messages(note bool) []string {
	var out []string
	for _, p := range r.Problems {
		if p.Note == note {
			out = append(out, p.Message)
		}
	}
	return out
}

// Finish derives Valid. A skipped revocation check is acceptable; a skipped
// integrity or trust check is not.
func (r *Report) Finish() *Report {
	r.Valid = r.Signed &&
		r.Integrity == CheckPassed &&
		r.Trust == CheckPassed &&
		r.Revocation != CheckFailed &&
		len(r.Errors()) == 0
	return r
}

// SignerOf describes cert; nil yields nil
func SignerOf(cert *x509.Certificate) *Signer {
	if cert == nil {
		return nil
	}
	s := &Signer{
		Name:      cert.Subject.CommonName,
		Serial:    cert.SerialNumber.String(),
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
	}
	if len(cert.Subject.Organization) > 0 {
		s.Organization = cert.Subject.Organization[0]
	}
	if s.Issuer == "" && len(cert.Issuer.Organization) > 0 {
		s.Issuer = cert.Issuer.Organization[0]
	}
	return s
}
