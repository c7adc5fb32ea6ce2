package model

import (
	"context"
	"errors"
	"time"
)

// Role separates ordinary citizens from counter operators. Only OPERATOR
// subjects may drive verification sessions.
type Role string

const (
	RoleCitizen  Role = "CITIZEN"
	RoleOperator Role = "OPERATOR"
)

// ParcelStatus values only ever move forward: CREATED -> IN_TRANSIT -> DELIVERED.
type ParcelStatus string

const (
	StatusCreated   ParcelStatus = "CREATED"
	StatusInTransit ParcelStatus = "IN_TRANSIT"
	StatusDelivered ParcelStatus = "DELIVERED"
)

// Intent binds an OTP transaction to the operation it authorizes.
type Intent string

const (
	IntentSend    Intent = "SEND"
	IntentReceive Intent = "RECEIVE"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxConfirmed TransactionStatus = "CONFIRMED"
	TxExpired   TransactionStatus = "EXPIRED"
)

// -------------------- SUBJECT MODEL --------------------

// Subject is a registered person. Identifier is immutable once created and is
// the ledger primary key.
type Subject struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	Mobile      string `json:"mobile"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`

	// CredentialHash is consumed by the login collaborator only.
	CredentialHash string `json:"-"`

	// BiometricTemplate is the envelope-encrypted feature vector. Empty means
	// the subject is not enrolled and the face gate must not be evaluated.
	BiometricTemplate []byte `json:"-"`

	// Verified and AccessGranted are the handshake signals written by the
	// operator side and observed by the subject side. They are reset when a
	// new verification session claims this subject.
	Verified      bool `json:"verified"`
	AccessGranted bool `json:"access_granted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrolled reports whether the face gate can be evaluated for this subject.
func (s *Subject) Enrolled() bool {
	return len(s.BiometricTemplate) > 0
}

// -------------------- PARCEL MODEL --------------------

type ReceiverContact struct {
	Mobile  string `json:"mobile"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type Parcel struct {
	ID               string          `json:"id"`
	SenderIdentifier string          `json:"sender_identifier"`
	Receiver         ReceiverContact `json:"receiver"`
	Description      string          `json:"description"`
	Weight           string          `json:"weight"`
	Status           ParcelStatus    `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	// DeliveredAt is set if and only if Status == DELIVERED.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ParcelFilter selects parcels by sender, receiver contact, or status subset.
// Empty fields match everything.
type ParcelFilter struct {
	SenderIdentifier string
	ReceiverEmail    string
	ReceiverMobile   string
	Statuses         []ParcelStatus
}

// Matches reports whether p satisfies the filter.
func (f ParcelFilter) Matches(p *Parcel) bool {
	if f.SenderIdentifier != "" && p.SenderIdentifier != f.SenderIdentifier {
		return false
	}
	if f.ReceiverEmail != "" && p.Receiver.Email != f.ReceiverEmail {
		return false
	}
	if f.ReceiverMobile != "" && p.Receiver.Mobile != f.ReceiverMobile {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if p.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// -------------------- TRANSACTION MODEL --------------------

// Transaction is a short-lived OTP session binding a subject and an intent.
// At most one PENDING transaction exists per (subject, intent) pair; issuing
// a new one expires the prior one.
type Transaction struct {
	TransactionID     string            `json:"transaction_id"`
	SubjectIdentifier string            `json:"subject_identifier"`
	Intent            Intent            `json:"intent"`
	CodeHash          string            `json:"-"`
	IssuedAt          time.Time         `json:"issued_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	Status            TransactionStatus `json:"status"`
}

// -------------------- LEDGER ERRORS --------------------

var (
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrParcelNotFound   = errors.New("parcel not found")
	ErrAlreadyDelivered = errors.New("parcel already delivered")
	ErrInvalidTransition = errors.New("invalid parcel status transition")
)

// -------------------- LEDGER INTERFACES --------------------

// SubjectLedger is the authoritative record system for subjects. Writes for
// the same identifier are serialized (last writer wins, total order per key).
type SubjectLedger interface {
	GetSubject(ctx context.Context, identifier string) (*Subject, error)
	GetSubjectByEmail(ctx context.Context, email string) (*Subject, error)
	GetSubjectByMobile(ctx context.Context, mobile string) (*Subject, error)
	PutSubject(ctx context.Context, subject *Subject) error
	DeleteSubject(ctx context.Context, identifier string) error
}

// ParcelLedger is the authoritative record system for parcels.
type ParcelLedger interface {
	GetParcel(ctx context.Context, id string) (*Parcel, error)
	PutParcel(ctx context.Context, parcel *Parcel) error
	// MarkDelivered performs a serialized compare-and-set on the parcel
	// status. The loser of a race observes ErrAlreadyDelivered.
	MarkDelivered(ctx context.Context, id string, at time.Time) (*Parcel, error)
	ListParcels(ctx context.Context, filter ParcelFilter) ([]*Parcel, error)
}

// TransactionStore holds OTP transactions for the duration of a handshake.
// Implementations may evict by TTL; long-term persistence is not required.
type TransactionStore interface {
	Put(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, transactionID string) (*Transaction, error)
	// GetPending returns the PENDING transaction for the pair, or nil when
	// none exists.
	GetPending(ctx context.Context, subjectIdentifier string, intent Intent) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
}
