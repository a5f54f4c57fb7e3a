package billing

import (
	"errors"

	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the Stripe-Signature header against the raw body.
// The endpoint may be pinned to a different API version than the SDK, so versions are not compared.
func (v *Verifier) Verify(payload []byte, header string) (billingevent.Envelope, error) {
	if header == "" {
		return billingevent.Envelope{}, errs.SignatureError{Err: errors.New("missing signature header")}
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return billingevent.Envelope{}, errs.SignatureError{Err: err}
	}
	if event.ID == "" || event.Type == "" {
		return billingevent.Envelope{}, errs.SignatureError{Err: errors.New("event has no id or type")}
	}

	return billingevent.NewEnvelope(event, payload), nil
}
