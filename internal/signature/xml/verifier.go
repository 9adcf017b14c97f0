package xml

import (
	"context"
	"crypto/x509"
	"fmt"

	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/erechnung/internal/signature"
	"github.com/rezonia/erechnung/internal/signature/trust"
)

// Verifier checks enveloped signatures on UBL documents against a trust store
type Verifier struct {
	roots *trust.Store
}

// NewVerifier creates a verifier trusting the roots in store
func NewVerifier(store *trust.Store) *Verifier {
	return &Verifier{roots: store}
}

// Verify runs the integrity, trust and revocation checks. Each check that
// cannot pass is recorded on the report; later checks still run so the
// signer is reported.
func (v *Verifier) Verify(ctx context.Context, data []byte) (*signature.Report, error) {
	if v.roots == nil || v.roots.Len() == 0 {
		return nil, signature.ErrNoTrustedRoots
	}

	env, err := Open(data)
	if err != nil {
		return nil, err
	}

	report := signature.NewReport()
	report.Signed = true
	report.SignedAt = env.SignedAt

	if err := env.ReadCertificates(); err != nil {
		report.Fail(signature.CodeCertificate, err.Error())
		return report.Finish(), nil
	}
	report.Signer = signature.SignerOf(env.Signer)

	// goxmldsig only accepts the embedded certificate when it is one of the roots,
	// so integrity is checked against the signer itself and trust separately
	vctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{env.Signer},
	})
	if _, err := vctx.Validate(env.Document.Root()); err != nil {
		report.Integrity = signature.CheckFailed
		report.Fail(signature.CodeMismatch, fmt.Sprintf("signature does not match document: %v", err))
	} else {
		report.Integrity = signature.CheckPassed
	}

	chain, err := v.roots.Chain(env.Signer, env.Intermediates)
	if err != nil {
		report.Trust = signature.CheckFailed
		report.Fail(signature.CodeUntrustedSigner, fmt.Sprintf("signer %q does not chain to a trusted root: %v", env.Signer.Subject.CommonName, err))
		return report.Finish(), nil
	}
	report.Trust = signature.CheckPassed
	report.Chain = chain

	v.revocation(ctx, report, chain)
	return report.Finish(), nil
}

func (v *Verifier) revocation(ctx context.Context, report *signature.Report, chain []*x509.Certificate) {
	if len(chain) < 2 {
		report.Note(signature.CodeRevocationUnknown, "signer is a trusted root; revocation not checked")
		return
	}

	status, err := v.roots.Revocation(ctx, chain[0], chain[1])
	switch {
	case err != nil && status == trust.StatusUnchecked:
		report.Note(signature.CodeRevocationUnknown, fmt.Sprintf("OCSP unavailable: %v", err))
	case err != nil:
		report.Revocation = signature.CheckFailed
		report.Fail(signature.CodeRevocationUnknown, fmt.Sprintf("OCSP unavailable: %v", err))
	case status == trust.StatusRevoked:
		report.Revocation = signature.CheckFailed
		report.Fail(signature.CodeSignerRevoked, fmt.Sprintf("certificate of %q is revoked", chain[0].Subject.CommonName))
	case status == trust.StatusGood:
		report.Revocation = signature.CheckPassed
	default:
		report.Note(signature.CodeRevocationUnknown, "certificate names no OCSP responder")
	}
}
