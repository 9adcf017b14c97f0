// Package zugferd renders hybrid ZUGFeRD / Factur-X invoices: a human-readable
// PDF with the XRechnung XML embedded as an attachment.
package zugferd

import (
	"fmt"
	"strings"

	"github.com/rezonia/erechnung/internal/model"
)

// Profile is the ZUGFeRD conformance level
type Profile string

const (
	ProfileBasic    Profile = "BASIC"
	ProfileComfort  Profile = "COMFORT"
	ProfileExtended Profile = "EXTENDED"
)

// DefaultProfile corresponds to EN 16931
const DefaultProfile = ProfileComfort

// AttachmentName is the file name of the embedded XML twin
const AttachmentName = "zugferd-invoice.xml"

// ParseProfile parses a profile name (case-insensitive). Empty input yields the default.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return DefaultProfile, nil
	case "EN16931", "EN 16931":
		return ProfileComfort, nil
	case ProfileBasic, ProfileComfort, ProfileExtended:
		return p, nil
	}
	return "", model.NewInputError("profile", fmt.Sprintf("unsupported ZUGFeRD profile %q", s))
}

// Keywords declares document type and conformance level in the PDF info dictionary
func (p Profile) Keywords() string {
	return fmt.Sprintf("Invoice, ZUGFeRD, Factur-X, EN 16931, %s", p)
}

// conformanceLevel is the value of fx:ConformanceLevel in the XMP packet
func (p Profile) conformanceLevel() string {
	if p == ProfileComfort {
		return "EN 16931"
	}
	return string(p)
}
