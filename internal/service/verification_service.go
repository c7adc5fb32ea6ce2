package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"postal-service/internal/audit"
	"postal-service/internal/biometric"
	"postal-service/internal/bus"
	"postal-service/internal/encryption"
	"postal-service/internal/model"
	"postal-service/internal/notify"
	"postal-service/internal/otp"
	"postal-service/internal/util"
)

var (
	ErrNotOperator          = errors.New("subject is not an operator")
	ErrSessionNotFound      = errors.New("verification session not found")
	ErrSessionStateConflict = errors.New("operation not valid in current session state")
	ErrBiometricNotEnrolled = errors.New("subject has no biometric template")
	ErrFaceMismatch         = errors.New("biometric mismatch")
	ErrReceiverNotLinked    = errors.New("no registered subject is linked to the parcel receiver")
	ErrSessionExpired       = errors.New("verification session expired")
)

// SessionState tracks progress through the handshake.
type SessionState string

const (
	StateClaimed       SessionState = "CLAIMED"
	StateFaceVerified  SessionState = "FACE_VERIFIED"
	StateOTPIssued     SessionState = "OTP_ISSUED"
	StateAccessGranted SessionState = "ACCESS_GRANTED"
)

// Session is one operator-driven verification attempt. SEND sessions bind a
// subject; RECEIVE sessions additionally bind the parcel being collected.
type Session struct {
	ID                 string       `json:"id"`
	Intent             model.Intent `json:"intent"`
	OperatorIdentifier string       `json:"operator_identifier"`
	SubjectIdentifier  string       `json:"subject_identifier"`
	ParcelID           string       `json:"parcel_id,omitempty"`
	State              SessionState `json:"state"`
	TransactionID      string       `json:"transaction_id,omitempty"`
	MatchScore         float64      `json:"match_score,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// VerificationService drives the claim -> face -> OTP handshake that gates
// both send acceptance and delivery confirmation. The ledger is the source of
// truth throughout; the bus only carries hints.
type VerificationService struct {
	subjects  model.SubjectLedger
	parcels   model.ParcelLedger
	gate      *biometric.Gate
	encryptor *encryption.Manager
	issuer    *otp.Issuer
	transport notify.DeliveryTransport
	eventBus  bus.Bus
	auditor   audit.Recorder

	receiveRequiresOTP bool
	sessionTimeout     time.Duration
	now                func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewVerificationService(
	subjects model.SubjectLedger,
	parcels model.ParcelLedger,
	gate *biometric.Gate,
	encryptor *encryption.Manager,
	issuer *otp.Issuer,
	transport notify.DeliveryTransport,
	eventBus bus.Bus,
	auditor audit.Recorder,
	receiveRequiresOTP bool,
	sessionTimeout time.Duration,
) *VerificationService {
	return &VerificationService{
		subjects:           subjects,
		parcels:            parcels,
		gate:               gate,
		encryptor:          encryptor,
		issuer:             issuer,
		transport:          transport,
		eventBus:           eventBus,
		auditor:            auditor,
		receiveRequiresOTP: receiveRequiresOTP,
		sessionTimeout:     sessionTimeout,
		now:                time.Now,
		sessions:           make(map[string]*Session),
	}
}

// SetClock overrides the service time source. Test hook.
func (s *VerificationService) SetClock(now func() time.Time) {
	s.now = now
}

// ClaimSend starts a SEND handshake for a subject at the counter. Claiming
// resets any verification state left over from an earlier visit.
func (s *VerificationService) ClaimSend(ctx context.Context, operatorIdentifier, subjectIdentifier string) (*Session, error) {
	if err := s.requireOperator(ctx, operatorIdentifier); err != nil {
		return nil, err
	}

	subject, err := s.subjects.GetSubject(ctx, subjectIdentifier)
	if err != nil {
		return nil, err
	}
	if !subject.Enrolled() {
		return nil, ErrBiometricNotEnrolled
	}

	if err := s.resetHandshakeFlags(ctx, subject); err != nil {
		return nil, err
	}

	session := s.openSession(model.IntentSend, operatorIdentifier, subjectIdentifier, "")

	s.auditor.Record(audit.Entry{
		Action:            "verify.claim.send",
		SubjectIdentifier: subjectIdentifier,
	})

	util.Info("Send verification claimed",
		zap.String("session_id", session.ID),
		zap.String("subject", subjectIdentifier))

	return session, nil
}

// ClaimDelivery starts a RECEIVE handshake for a parcel. The parcel must
// exist, must not already be delivered, and its receiver contact must resolve
// to a registered subject. Those checks run in that order, before any
// biometric work.
func (s *VerificationService) ClaimDelivery(ctx context.Context, operatorIdentifier, parcelID string) (*Session, error) {
	if err := s.requireOperator(ctx, operatorIdentifier); err != nil {
		return nil, err
	}

	parcel, err := s.parcels.GetParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	if parcel.Status == model.StatusDelivered {
		return nil, model.ErrAlreadyDelivered
	}

	subject, err := s.resolveReceiver(ctx, parcel)
	if err != nil {
		return nil, err
	}
	if !subject.Enrolled() {
		return nil, ErrBiometricNotEnrolled
	}

	if err := s.resetHandshakeFlags(ctx, subject); err != nil {
		return nil, err
	}

	session := s.openSession(model.IntentReceive, operatorIdentifier, subject.Identifier, parcelID)

	s.auditor.Record(audit.Entry{
		Action:            "verify.claim.receive",
		SubjectIdentifier: subject.Identifier,
		ParcelID:          parcelID,
	})

	util.Info("Delivery verification claimed",
		zap.String("session_id", session.ID),
		zap.String("subject", subject.Identifier),
		zap.String("parcel_id", parcelID))

	return session, nil
}

// ScanFace evaluates the live capture against the enrolled template. On a
// match the subject is marked verified in the ledger; a SEND session (or a
// RECEIVE session when OTP is required) then gets a one-time code, while a
// RECEIVE session without OTP completes delivery immediately.
func (s *VerificationService) ScanFace(ctx context.Context, sessionID string, live []float64) (*Session, error) {
	session, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != StateClaimed {
		return session, ErrSessionStateConflict
	}

	subject, err := s.subjects.GetSubject(ctx, session.SubjectIdentifier)
	if err != nil {
		return session, err
	}
	if !subject.Enrolled() {
		return session, ErrBiometricNotEnrolled
	}

	template, err := s.encryptor.DecryptTemplate(ctx, subject.BiometricTemplate)
	if err != nil {
		return session, fmt.Errorf("failed to open biometric template: %w", err)
	}

	result, err := s.gate.Compare(live, template)
	if err != nil {
		return session, err
	}

	s.updateSession(session, func(ses *Session) {
		ses.MatchScore = result.Score
	})

	if !result.Matched {
		s.auditor.Record(audit.Entry{
			Action:            "verify.face",
			SubjectIdentifier: session.SubjectIdentifier,
			ParcelID:          session.ParcelID,
			Outcome:           "mismatch",
			Detail:            fmt.Sprintf("score=%.4f", result.Score),
		})
		return session, fmt.Errorf("%w: score %.4f", ErrFaceMismatch, result.Score)
	}

	subject.Verified = true
	if err := s.subjects.PutSubject(ctx, subject); err != nil {
		return session, fmt.Errorf("failed to record verification: %w", err)
	}

	s.updateSession(session, func(ses *Session) {
		ses.State = StateFaceVerified
	})

	s.publishBestEffort(ctx,
		bus.Event{
			Topic:             bus.SubjectTopic(subject.Identifier),
			Type:              bus.EventSubjectVerified,
			SubjectIdentifier: subject.Identifier,
			ParcelID:          session.ParcelID,
			At:                s.now().UTC(),
		})

	s.auditor.Record(audit.Entry{
		Action:            "verify.face",
		SubjectIdentifier: session.SubjectIdentifier,
		ParcelID:          session.ParcelID,
		Outcome:           "matched",
		Detail:            fmt.Sprintf("score=%.4f", result.Score),
	})

	if session.Intent == model.IntentReceive && !s.receiveRequiresOTP {
		return s.completeDelivery(ctx, session, subject)
	}

	return s.issueCode(ctx, session, subject)
}

// SubmitOTP confirms the session's one-time code. A correct code grants
// access and, for RECEIVE sessions, marks the parcel delivered. A wrong code
// leaves the session intact for another try; an expired code tears the
// session down and the handshake starts over.
func (s *VerificationService) SubmitOTP(ctx context.Context, sessionID, code string) (*Session, error) {
	session, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != StateOTPIssued {
		return session, ErrSessionStateConflict
	}

	_, err = s.issuer.Confirm(ctx, session.TransactionID, code)
	switch {
	case err == nil:
	case errors.Is(err, otp.ErrOTPExpired), errors.Is(err, otp.ErrTransactionNotFound):
		s.dropSession(session.ID)
		s.auditor.Record(audit.Entry{
			Action:            "verify.otp",
			SubjectIdentifier: session.SubjectIdentifier,
			ParcelID:          session.ParcelID,
			TransactionID:     session.TransactionID,
			Outcome:           "expired",
		})
		return nil, otp.ErrOTPExpired
	case errors.Is(err, otp.ErrOTPMismatch):
		s.auditor.Record(audit.Entry{
			Action:            "verify.otp",
			SubjectIdentifier: session.SubjectIdentifier,
			ParcelID:          session.ParcelID,
			TransactionID:     session.TransactionID,
			Outcome:           "mismatch",
		})
		return session, err
	default:
		return session, err
	}

	subject, err := s.subjects.GetSubject(ctx, session.SubjectIdentifier)
	if err != nil {
		return session, err
	}

	if session.Intent == model.IntentReceive {
		return s.completeDelivery(ctx, session, subject)
	}

	subject.AccessGranted = true
	if err := s.subjects.PutSubject(ctx, subject); err != nil {
		return session, fmt.Errorf("failed to record access grant: %w", err)
	}

	s.updateSession(session, func(ses *Session) {
		ses.State = StateAccessGranted
	})

	s.publishBestEffort(ctx, bus.Event{
		Topic:             bus.SubjectTopic(subject.Identifier),
		Type:              bus.EventAccessGranted,
		SubjectIdentifier: subject.Identifier,
		TransactionID:     session.TransactionID,
		At:                s.now().UTC(),
	})

	s.auditor.Record(audit.Entry{
		Action:            "verify.otp",
		SubjectIdentifier: session.SubjectIdentifier,
		TransactionID:     session.TransactionID,
		Outcome:           "granted",
	})

	util.Info("Access granted",
		zap.String("session_id", session.ID),
		zap.String("subject", session.SubjectIdentifier))

	return session, nil
}

// GetSession returns a session snapshot.
func (s *VerificationService) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.loadSession(sessionID)
}

// -------------------- INTERNAL --------------------

func (s *VerificationService) issueCode(ctx context.Context, session *Session, subject *model.Subject) (*Session, error) {
	tx, code, err := s.issuer.Issue(ctx, subject.Identifier, session.Intent)
	if err != nil {
		return session, err
	}

	s.updateSession(session, func(ses *Session) {
		ses.State = StateOTPIssued
		ses.TransactionID = tx.TransactionID
	})

	contact := model.ReceiverContact{Mobile: subject.Mobile, Email: subject.Email}

	// Code display on the subject's own session plus external channels, all
	// best-effort and in parallel. The handshake proceeds even if every
	// channel fails; the code is recoverable through the subject topic.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.publishBestEffort(gctx, bus.Event{
			Topic:             bus.SubjectTopic(subject.Identifier),
			Type:              bus.EventOTPIssued,
			SubjectIdentifier: subject.Identifier,
			ParcelID:          session.ParcelID,
			TransactionID:     tx.TransactionID,
			Intent:            string(session.Intent),
			Code:              code,
			At:                s.now().UTC(),
		})
		return nil
	})
	g.Go(func() error {
		if err := s.transport.Deliver(gctx, contact, code); err != nil {
			util.Warn("OTP external delivery failed",
				zap.String("subject", subject.Identifier), zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()

	s.auditor.Record(audit.Entry{
		Action:            "verify.otp.issued",
		SubjectIdentifier: subject.Identifier,
		ParcelID:          session.ParcelID,
		TransactionID:     tx.TransactionID,
	})

	return session, nil
}

// completeDelivery confirms the parcel and grants access. When two
// confirmations race, the ledger lets exactly one through; the loser gets
// ErrAlreadyDelivered and no grant.
func (s *VerificationService) completeDelivery(ctx context.Context, session *Session, subject *model.Subject) (*Session, error) {
	parcel, err := s.parcels.MarkDelivered(ctx, session.ParcelID, s.now().UTC())
	if err != nil {
		return session, err
	}

	subject.AccessGranted = true
	if err := s.subjects.PutSubject(ctx, subject); err != nil {
		return session, fmt.Errorf("failed to record access grant: %w", err)
	}

	s.updateSession(session, func(ses *Session) {
		ses.State = StateAccessGranted
	})

	s.publishBestEffort(ctx,
		bus.Event{
			Topic:             bus.ParcelTopic(parcel.ID),
			Type:              bus.EventOrderStatus,
			ParcelID:          parcel.ID,
			SubjectIdentifier: subject.Identifier,
			Status:            string(parcel.Status),
			At:                s.now().UTC(),
		},
		bus.Event{
			Topic:             bus.SubjectTopic(subject.Identifier),
			Type:              bus.EventAccessGranted,
			SubjectIdentifier: subject.Identifier,
			ParcelID:          parcel.ID,
			At:                s.now().UTC(),
		})

	s.auditor.Record(audit.Entry{
		Action:            "verify.delivered",
		SubjectIdentifier: subject.Identifier,
		ParcelID:          parcel.ID,
	})

	util.Info("Delivery confirmed",
		zap.String("session_id", session.ID),
		zap.String("parcel_id", parcel.ID),
		zap.String("subject", subject.Identifier))

	return session, nil
}

func (s *VerificationService) requireOperator(ctx context.Context, operatorIdentifier string) error {
	operator, err := s.subjects.GetSubject(ctx, operatorIdentifier)
	if err != nil {
		return err
	}
	if operator.Role != model.RoleOperator {
		return ErrNotOperator
	}
	return nil
}

// resetHandshakeFlags clears signals left by a previous handshake so a stale
// grant can never leak into a new session.
func (s *VerificationService) resetHandshakeFlags(ctx context.Context, subject *model.Subject) error {
	if !subject.Verified && !subject.AccessGranted {
		return nil
	}
	subject.Verified = false
	subject.AccessGranted = false
	if err := s.subjects.PutSubject(ctx, subject); err != nil {
		return fmt.Errorf("failed to reset handshake flags: %w", err)
	}
	return nil
}

func (s *VerificationService) openSession(intent model.Intent, operatorIdentifier, subjectIdentifier, parcelID string) *Session {
	now := s.now().UTC()
	session := &Session{
		ID:                 uuid.New().String(),
		Intent:             intent,
		OperatorIdentifier: operatorIdentifier,
		SubjectIdentifier:  subjectIdentifier,
		ParcelID:           parcelID,
		State:              StateClaimed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A new claim supersedes any session still open for the same target.
	for id, existing := range s.sessions {
		if existing.SubjectIdentifier == subjectIdentifier && existing.Intent == intent {
			delete(s.sessions, id)
		}
	}
	s.sessions[session.ID] = session

	out := *session
	return &out
}

func (s *VerificationService) loadSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.now().Sub(session.UpdatedAt) > s.sessionTimeout {
		delete(s.sessions, sessionID)
		return nil, ErrSessionExpired
	}

	out := *session
	return &out, nil
}

func (s *VerificationService) updateSession(snapshot *Session, apply func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[snapshot.ID]; ok {
		apply(session)
		session.UpdatedAt = s.now().UTC()
		*snapshot = *session
		return
	}
	apply(snapshot)
	snapshot.UpdatedAt = s.now().UTC()
}

func (s *VerificationService) dropSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *VerificationService) publishBestEffort(ctx context.Context, events ...bus.Event) {
	for _, event := range events {
		if err := s.eventBus.Publish(ctx, event); err != nil {
			util.Warn("Failed to publish event",
				zap.String("topic", event.Topic),
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}
}

// resolveReceiver maps the parcel's receiver contact onto a registered
// subject, email first, then mobile. A contact that maps to no subject is
// ErrReceiverNotLinked.
func (s *VerificationService) resolveReceiver(ctx context.Context, parcel *model.Parcel) (*model.Subject, error) {
	if parcel.Receiver.Email != "" {
		subject, err := s.subjects.GetSubjectByEmail(ctx, parcel.Receiver.Email)
		if err == nil {
			return subject, nil
		}
		if !errors.Is(err, model.ErrSubjectNotFound) {
			return nil, err
		}
	}
	if parcel.Receiver.Mobile != "" {
		subject, err := s.subjects.GetSubjectByMobile(ctx, parcel.Receiver.Mobile)
		if err == nil {
			return subject, nil
		}
		if !errors.Is(err, model.ErrSubjectNotFound) {
			return nil, err
		}
	}
	return nil, ErrReceiverNotLinked
}
