// Package signature verifies enveloped XMLDSig signatures on received
// e-invoice XML against a configurable set of trusted roots.
package signature

import (
	"bytes"
	"context"
)

// Verifier checks the digital signature on a document
type Verifier interface {
	// Verify reports every check it ran. An error means nothing could be checked,
	// e.g. ErrNoSignature or a Malformed document.
	Verify(ctx context.Context, data []byte) (*Report, error)
}

// HasXMLSignature is a cheap pre-check for an XMLDSig Signature element
func HasXMLSignature(data []byte) bool {
	return bytes.Contains(data, []byte("<Signature")) ||
		bytes.Contains(data, []byte(":Signature"))
}
