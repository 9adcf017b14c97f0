package signature

import "fmt"

// Code classifies why a signature could not be accepted
type Code string

const (
	CodeNoSignature       Code = "NO_SIGNATURE"
	CodeMalformed         Code = "MALFORMED_DOCUMENT"
	CodeMismatch          Code = "SIGNATURE_MISMATCH"
	CodeUntrustedSigner   Code = "UNTRUSTED_SIGNER"
	CodeSignerRevoked     Code = "SIGNER_REVOKED"
	CodeRevocationUnknown Code = "REVOCATION_UNKNOWN"
	CodeNoTrustedRoots    Code = "NO_TRUSTED_ROOTS"
	CodeCertificate       Code = "CERTIFICATE_UNREADABLE"
)

// Error is returned when verification cannot run at all. Failed checks on a
// readable signature are reported on the Report instead.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("signature %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNoSignature    = &Error{Code: CodeNoSignature, Message: "document carries no XMLDSig signature"}
	ErrNoTrustedRoots = &Error{Code: CodeNoTrustedRoots, Message: "no trusted root certificates configured"}
)

// Malformed wraps a parse failure of the signed document
func Malformed(err error) *Error {
	return &Error{Code: CodeMalformed, Message: "document is not well-formed XML", Err: err}
}
