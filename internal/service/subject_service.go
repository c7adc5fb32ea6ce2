package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"postal-service/internal/audit"
	"postal-service/internal/encryption"
	"postal-service/internal/hashing"
	"postal-service/internal/model"
	"postal-service/internal/util"
)

var (
	ErrSubjectExists      = errors.New("subject already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSubjectInTransit   = errors.New("subject has parcels in transit")
	ErrInvalidSubject     = errors.New("invalid subject")
)

// Complaint is a grievance filed by a subject, optionally tied to a parcel.
type Complaint struct {
	ID                string    `json:"id"`
	SubjectIdentifier string    `json:"subject_identifier"`
	ParcelID          string    `json:"parcel_id,omitempty"`
	Message           string    `json:"message"`
	FiledAt           time.Time `json:"filed_at"`
}

// SubjectService manages subject registration, credentials, and biometric
// enrollment. Identifiers are immutable once registered.
type SubjectService struct {
	subjects  model.SubjectLedger
	parcels   model.ParcelLedger
	hasher    *hashing.Hasher
	encryptor *encryption.Manager
	auditor   audit.Recorder
	now       func() time.Time
}

func NewSubjectService(
	subjects model.SubjectLedger,
	parcels model.ParcelLedger,
	hasher *hashing.Hasher,
	encryptor *encryption.Manager,
	auditor audit.Recorder,
) *SubjectService {
	return &SubjectService{
		subjects:  subjects,
		parcels:   parcels,
		hasher:    hasher,
		encryptor: encryptor,
		auditor:   auditor,
		now:       time.Now,
	}
}

// Register creates a subject. The identifier, email, and mobile must all be
// unused.
func (s *SubjectService) Register(ctx context.Context, identifier, displayName, mobile, email string, role model.Role, credential string) (*model.Subject, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier required", ErrInvalidSubject)
	}
	if credential == "" {
		return nil, fmt.Errorf("%w: credential required", ErrInvalidSubject)
	}
	if role != model.RoleCitizen && role != model.RoleOperator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSubject, role)
	}

	if _, err := s.subjects.GetSubject(ctx, identifier); err == nil {
		return nil, ErrSubjectExists
	} else if !errors.Is(err, model.ErrSubjectNotFound) {
		return nil, fmt.Errorf("failed to check identifier: %w", err)
	}
	if email != "" {
		if _, err := s.subjects.GetSubjectByEmail(ctx, email); err == nil {
			return nil, ErrSubjectExists
		} else if !errors.Is(err, model.ErrSubjectNotFound) {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
	}
	if mobile != "" {
		if _, err := s.subjects.GetSubjectByMobile(ctx, mobile); err == nil {
			return nil, ErrSubjectExists
		} else if !errors.Is(err, model.ErrSubjectNotFound) {
			return nil, fmt.Errorf("failed to check mobile: %w", err)
		}
	}

	credentialHash, err := s.hasher.HashCredential(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to hash credential: %w", err)
	}

	now := s.now().UTC()
	subject := &model.Subject{
		Identifier:     identifier,
		DisplayName:    util.SanitizeInput(displayName),
		Mobile:         mobile,
		Email:          email,
		Role:           role,
		CredentialHash: credentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.subjects.PutSubject(ctx, subject); err != nil {
		return nil, fmt.Errorf("failed to store subject: %w", err)
	}

	s.auditor.Record(audit.Entry{
		Action:            "subject.registered",
		SubjectIdentifier: identifier,
		Outcome:           string(role),
	})

	util.Info("Subject registered",
		zap.String("identifier", identifier),
		zap.String("role", string(role)))

	return subject, nil
}

// Login verifies a credential. It never reveals whether the identifier or
// the credential was wrong.
func (s *SubjectService) Login(ctx context.Context, identifier, credential string) (*model.Subject, error) {
	subject, err := s.subjects.GetSubject(ctx, identifier)
	if err != nil {
		if errors.Is(err, model.ErrSubjectNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}

	ok, err := s.hasher.VerifyCredential(credential, subject.CredentialHash)
	if err != nil || !ok {
		s.auditor.Record(audit.Entry{
			Action:            "subject.login",
			SubjectIdentifier: identifier,
			Outcome:           "denied",
		})
		return nil, ErrInvalidCredentials
	}

	s.auditor.Record(audit.Entry{
		Action:            "subject.login",
		SubjectIdentifier: identifier,
		Outcome:           "ok",
	})
	return subject, nil
}

// EnrollBiometric stores an envelope-encrypted feature vector for the
// subject. Re-enrolling replaces the previous template.
func (s *SubjectService) EnrollBiometric(ctx context.Context, identifier string, template []float64) error {
	if len(template) == 0 {
		return fmt.Errorf("%w: empty biometric template", ErrInvalidSubject)
	}

	subject, err := s.subjects.GetSubject(ctx, identifier)
	if err != nil {
		return err
	}

	sealed, err := s.encryptor.EncryptTemplate(ctx, template)
	if err != nil {
		return fmt.Errorf("failed to encrypt template: %w", err)
	}

	subject.BiometricTemplate = sealed
	if err := s.subjects.PutSubject(ctx, subject); err != nil {
		return fmt.Errorf("failed to store subject: %w", err)
	}

	s.auditor.Record(audit.Entry{
		Action:            "subject.enrolled",
		SubjectIdentifier: identifier,
	})

	util.Info("Biometric template enrolled", zap.String("identifier", identifier))
	return nil
}

func (s *SubjectService) GetSubject(ctx context.Context, identifier string) (*model.Subject, error) {
	return s.subjects.GetSubject(ctx, identifier)
}

// DeleteSubject removes a subject, unless any parcel they sent is still in
// transit. Deleting the sender of a moving parcel would orphan the delivery.
func (s *SubjectService) DeleteSubject(ctx context.Context, identifier string) error {
	if _, err := s.subjects.GetSubject(ctx, identifier); err != nil {
		return err
	}

	inTransit, err := s.parcels.ListParcels(ctx, model.ParcelFilter{
		SenderIdentifier: identifier,
		Statuses:         []model.ParcelStatus{model.StatusCreated, model.StatusInTransit},
	})
	if err != nil {
		return fmt.Errorf("failed to check parcels: %w", err)
	}
	if len(inTransit) > 0 {
		return fmt.Errorf("%w: %d open parcels", ErrSubjectInTransit, len(inTransit))
	}

	if err := s.subjects.DeleteSubject(ctx, identifier); err != nil {
		return err
	}

	s.auditor.Record(audit.Entry{
		Action:            "subject.deleted",
		SubjectIdentifier: identifier,
	})

	util.Info("Subject deleted", zap.String("identifier", identifier))
	return nil
}

// FileComplaint records a grievance on the audit trail.
func (s *SubjectService) FileComplaint(ctx context.Context, identifier, parcelID, message string) (*Complaint, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: complaint message required", ErrInvalidSubject)
	}

	if _, err := s.subjects.GetSubject(ctx, identifier); err != nil {
		return nil, err
	}
	if parcelID != "" {
		if _, err := s.parcels.GetParcel(ctx, parcelID); err != nil {
			return nil, err
		}
	}

	complaint := &Complaint{
		ID:                uuid.New().String(),
		SubjectIdentifier: identifier,
		ParcelID:          parcelID,
		Message:           util.SanitizeInput(message),
		FiledAt:           s.now().UTC(),
	}

	s.auditor.Record(audit.Entry{
		Action:            "subject.complaint",
		SubjectIdentifier: identifier,
		ParcelID:          parcelID,
		Detail:            complaint.Message,
	})

	util.Info("Complaint filed",
		zap.String("identifier", identifier),
		zap.String("parcel_id", parcelID))

	return complaint, nil
}
