package billingevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

const (
	CheckoutCompleted       stripe.EventType = "checkout.session.completed"
	SubscriptionCreated     stripe.EventType = "customer.subscription.created"
	SubscriptionUpdated     stripe.EventType = "customer.subscription.updated"
	SubscriptionDeleted     stripe.EventType = "customer.subscription.deleted"
	InvoiceUpcoming         stripe.EventType = "invoice.upcoming"
	InvoiceCreated          stripe.EventType = "invoice.created"
	InvoiceUpdated          stripe.EventType = "invoice.updated"
	InvoiceFinalized        stripe.EventType = "invoice.finalized"
	InvoicePaymentSucceeded stripe.EventType = "invoice.payment_succeeded"
	InvoicePaid             stripe.EventType = "invoice.paid"
	InvoicePaymentFailed    stripe.EventType = "invoice.payment_failed"
)

// Envelope is a verified provider event. Raw holds data.object, Payload the full request body.
type Envelope struct {
	ID      string
	Type    stripe.EventType
	Created time.Time
	Raw     json.RawMessage
	Payload []byte
}

func NewEnvelope(event stripe.Event, payload []byte) Envelope {
	envelope := Envelope{
		ID:      event.ID,
		Type:    event.Type,
		Created: time.Unix(event.Created, 0).UTC(),
		Payload: payload,
	}
	if event.Data != nil {
		envelope.Raw = event.Data.Raw
	}
	return envelope
}

// Linkage carries every identifier the organization resolver may look at.
type Linkage struct {
	Metadata             map[string]string
	ClientReferenceID    string
	SubscriptionMetadata map[string]string
	CustomerID           string
	SubscriptionID       string
}

// Event is the closed set of provider events this service understands.
type Event interface {
	Linkage() Linkage
	isEvent()
}

type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}

func SubscriptionFromStripe(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		var periodEnd int64
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if out.PriceID == "" && item.Price != nil {
				out.PriceID = item.Price.ID
			}
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
		out.CurrentPeriodEnd = unixOrZero(periodEnd)
	}
	return out
}

type Invoice struct {
	InvoiceID            string
	CustomerID           string
	SubscriptionID       string
	Metadata             map[string]string
	SubscriptionMetadata map[string]string
	AmountDue            int64
	AmountPaid           int64
	Currency             string
	Status               string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	BillingReason        string
	HostedURL            string
	// SubscriptionPeriodEnd is the furthest line item period end, zero when the payload has no lines.
	SubscriptionPeriodEnd time.Time
}

func InvoiceFromStripe(inv *stripe.Invoice) Invoice {
	out := Invoice{
		InvoiceID:     inv.ID,
		Metadata:      inv.Metadata,
		AmountDue:     inv.AmountDue,
		AmountPaid:    inv.AmountPaid,
		Currency:      string(inv.Currency),
		Status:        string(inv.Status),
		PeriodStart:   unixOrZero(inv.PeriodStart),
		PeriodEnd:     unixOrZero(inv.PeriodEnd),
		BillingReason: string(inv.BillingReason),
		HostedURL:     inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		out.SubscriptionMetadata = details.Metadata
		if details.Subscription != nil {
			out.SubscriptionID = details.Subscription.ID
		}
	}
	if inv.Lines != nil {
		var periodEnd int64
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > periodEnd {
				periodEnd = line.Period.End
			}
		}
		out.SubscriptionPeriodEnd = unixOrZero(periodEnd)
	}
	return out
}

func (i Invoice) Linkage() Linkage {
	return Linkage{
		Metadata:             i.Metadata,
		SubscriptionMetadata: i.SubscriptionMetadata,
		CustomerID:           i.CustomerID,
		SubscriptionID:       i.SubscriptionID,
	}
}

type CheckoutSessionCompleted struct {
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	CustomerEmail     string
	SubscriptionID    string
	Metadata          map[string]string
}

func (e CheckoutSessionCompleted) Linkage() Linkage {
	return Linkage{
		Metadata:          e.Metadata,
		ClientReferenceID: e.ClientReferenceID,
		CustomerID:        e.CustomerID,
		SubscriptionID:    e.SubscriptionID,
	}
}

type SubscriptionChanged struct {
	Subscription
	Created bool
}

func (e SubscriptionChanged) Linkage() Linkage {
	return e.Subscription.linkage()
}

type SubscriptionCanceled struct {
	Subscription
}

func (e SubscriptionCanceled) Linkage() Linkage {
	return e.Subscription.linkage()
}

func (s Subscription) linkage() Linkage {
	return Linkage{
		Metadata:       s.Metadata,
		CustomerID:     s.CustomerID,
		SubscriptionID: s.ID,
	}
}

// UpcomingInvoice is a preview, the provider has not assigned it a durable id.
type UpcomingInvoice struct {
	Invoice
}

type InvoiceChanged struct {
	Invoice
}

type InvoicePaymentSucceededEvent struct {
	Invoice
}

type InvoicePaymentFailedEvent struct {
	Invoice
}

type Unhandled struct {
	Type stripe.EventType
}

func (e Unhandled) Linkage() Linkage {
	return Linkage{}
}

func (CheckoutSessionCompleted) isEvent()     {}
func (SubscriptionChanged) isEvent()          {}
func (SubscriptionCanceled) isEvent()         {}
func (UpcomingInvoice) isEvent()              {}
func (InvoiceChanged) isEvent()               {}
func (InvoicePaymentSucceededEvent) isEvent() {}
func (InvoicePaymentFailedEvent) isEvent()    {}
func (Unhandled) isEvent()                    {}

// Parse decodes data.object into the variant matching the envelope type.
func Parse(envelope Envelope) (Event, error) {
	switch envelope.Type {
	case CheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(envelope.Raw, &session); err != nil {
			return nil, fmt.Errorf("error parsing checkout session, %v", err)
		}
		return checkoutFromStripe(&session), nil

	case SubscriptionCreated, SubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(envelope.Raw, &sub); err != nil {
			return nil, fmt.Errorf("error parsing subscription, %v", err)
		}
		return SubscriptionChanged{
			Subscription: SubscriptionFromStripe(&sub),
			Created:      envelope.Type == SubscriptionCreated,
		}, nil

	case SubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(envelope.Raw, &sub); err != nil {
			return nil, fmt.Errorf("error parsing subscription, %v", err)
		}
		return SubscriptionCanceled{Subscription: SubscriptionFromStripe(&sub)}, nil

	case InvoiceUpcoming, InvoiceCreated, InvoiceUpdated, InvoiceFinalized,
		InvoicePaymentSucceeded, InvoicePaid, InvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(envelope.Raw, &inv); err != nil {
			return nil, fmt.Errorf("error parsing invoice, %v", err)
		}
		invoice := InvoiceFromStripe(&inv)
		switch envelope.Type {
		case InvoiceUpcoming:
			return UpcomingInvoice{Invoice: invoice}, nil
		case InvoicePaymentSucceeded, InvoicePaid:
			return InvoicePaymentSucceededEvent{Invoice: invoice}, nil
		case InvoicePaymentFailed:
			return InvoicePaymentFailedEvent{Invoice: invoice}, nil
		default:
			return InvoiceChanged{Invoice: invoice}, nil
		}

	default:
		return Unhandled{Type: envelope.Type}, nil
	}
}

func checkoutFromStripe(session *stripe.CheckoutSession) CheckoutSessionCompleted {
	out := CheckoutSessionCompleted{
		SessionID:         session.ID,
		ClientReferenceID: session.ClientReferenceID,
		CustomerEmail:     session.CustomerEmail,
		Metadata:          session.Metadata,
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	return out
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
