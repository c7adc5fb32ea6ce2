package bus

import (
	"context"
	"time"
)

// Event types carried on the notification bus. Events are hints only:
// subscribers must re-validate against the ledger before acting.
const (
	EventSubjectVerified = "subject.verified"
	EventOTPIssued       = "otp.issued"
	EventAccessGranted   = "access.granted"
	EventOrderStatus     = "order.status"
)

// Event is a fire-and-forget notification. Delivery is at-most-once with no
// ordering guarantee across subscribers.
type Event struct {
	Topic             string    `json:"topic"`
	Type              string    `json:"type"`
	SubjectIdentifier string    `json:"subject_identifier,omitempty"`
	ParcelID          string    `json:"parcel_id,omitempty"`
	TransactionID     string    `json:"transaction_id,omitempty"`
	Intent            string    `json:"intent,omitempty"`
	// Code is only populated on otp.issued events published to the subject's
	// own topic, so the subject session can display it.
	Code   string    `json:"code,omitempty"`
	Status string    `json:"status,omitempty"`
	At     time.Time `json:"at"`
}

// SubjectTopic namespaces events by subject identifier.
func SubjectTopic(identifier string) string {
	return "subject." + identifier
}

// ParcelTopic namespaces events by parcel id.
func ParcelTopic(id string) string {
	return "parcel." + id
}

// Bus is a best-effort publish/subscribe channel. Publish must not block on
// slow subscribers; Subscribe returns a receive channel and a cancel func.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}
