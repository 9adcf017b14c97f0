// Package xml locates and verifies enveloped XMLDSig signatures in UBL invoices.
package xml

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/rezonia/erechnung/internal/signature"
)

// DSigNamespace is the XML Signature namespace
const DSigNamespace = "http://www.w3.org/2000/09/xmldsig#"

// Envelope is a parsed signed document
type Envelope struct {
	Document *etree.Document
	// Signature is the ds:Signature element; UBL puts it under ext:UBLExtensions
	Signature *etree.Element
	// Signer is the first embedded certificate, the rest are treated as intermediates
	Signer        *x509.Certificate
	Intermediates []*x509.Certificate
	SignedAt      *time.Time
}

// Open parses data and locates its XMLDSig signature. A UBL cac:Signature is
// a different element and is not matched.
func Open(data []byte) (*Envelope, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, signature.Malformed(err)
	}
	if doc.Root() == nil {
		return nil, signature.Malformed(errors.New("no root element"))
	}

	sig := findDSig(doc.Root())
	if sig == nil {
		return nil, signature.ErrNoSignature
	}
	return &Envelope{Document: doc, Signature: sig, SignedAt: signingTime(sig)}, nil
}

// ReadCertificates decodes the X509Certificate elements under KeyInfo
func (e *Envelope) ReadCertificates() error {
	var certs []*x509.Certificate
	for _, el := range e.Signature.FindElements("./KeyInfo/X509Data/X509Certificate") {
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(el.Text()), ""))
		if err != nil {
			return fmt.Errorf("decode embedded certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("parse embedded certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return errors.New("signature embeds no X509Certificate")
	}
	e.Signer, e.Intermediates = certs[0], certs[1:]
	return nil
}

func findDSig(el *etree.Element) *etree.Element {
	if el.Tag == "Signature" && el.NamespaceURI() == DSigNamespace {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findDSig(c); found != nil {
			return found
		}
	}
	return nil
}

// signingTime reads a XAdES SigningTime anywhere under the signature
func signingTime(sig *etree.Element) *time.Time {
	el := sig.FindElement(".//SigningTime")
	if el == nil {
		return nil
	}
	text := strings.TrimSpace(el.Text())
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
