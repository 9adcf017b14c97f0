package delivery

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// participantPattern is scheme::identifier, e.g. 0204:991-12345-67 or 9930:de123456789
var participantPattern = regexp.MustCompile(`^\d{4}:[A-Za-z0-9\-._]+$`)

// peppolNamespace seeds the stub tracking ids
var peppolNamespace = uuid.MustParse("5f0e2b7c-3d1a-4c8e-9f6b-2a7d4e1c9b30")

// PeppolAdapter stands in for an access point. It validates the participant
// and returns a tracking id derived from the attempt, so retries are stable.
// Channel config keys: participantId.
type PeppolAdapter struct{}

// NewPeppolAdapter creates the peppol adapter
func NewPeppolAdapter() *PeppolAdapter { return &PeppolAdapter{} }

func (a *PeppolAdapter) Type() ChannelType { return ChannelPeppol }

func (a *PeppolAdapter) Send(ctx context.Context, ch *Channel, env Envelope) Result {
	if err := ctx.Err(); err != nil {
		return Failed(Transient(CodeTimeout, "send aborted: %v", err))
	}
	participant := strings.TrimSpace(ch.Config["participantId"])
	if participant == "" {
		return Failed(Permanent(CodeInvalidConfig, "channel %s has no participantId", ch.ID))
	}
	if !participantPattern.MatchString(participant) {
		return Failed(Permanent(CodeInvalidConfig, "participantId %q is not scheme:identifier", participant))
	}
	id := uuid.NewSHA1(peppolNamespace, []byte(participant+"|"+env.AttemptID))
	return Delivered("PEPPOL-" + id.String())
}
