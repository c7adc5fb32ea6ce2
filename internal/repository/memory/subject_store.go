package memory

import (
	"context"
	"sync"
	"time"

	"postal-service/internal/model"
)

// SubjectStore is an in-memory SubjectLedger used in development and tests.
// All operations are serialized under one mutex, which also gives the
// last-writer-wins per-key ordering the ledger contract requires.
type SubjectStore struct {
	mu       sync.RWMutex
	subjects map[string]*model.Subject
	byEmail  map[string]string
	byMobile map[string]string
}

func NewSubjectStore() *SubjectStore {
	return &SubjectStore{
		subjects: make(map[string]*model.Subject),
		byEmail:  make(map[string]string),
		byMobile: make(map[string]string),
	}
}

func (s *SubjectStore) GetSubject(ctx context.Context, identifier string) (*model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[identifier]
	if !ok {
		return nil, model.ErrSubjectNotFound
	}
	return copySubject(subject), nil
}

func (s *SubjectStore) GetSubjectByEmail(ctx context.Context, email string) (*model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identifier, ok := s.byEmail[email]
	if !ok {
		return nil, model.ErrSubjectNotFound
	}
	return copySubject(s.subjects[identifier]), nil
}

func (s *SubjectStore) GetSubjectByMobile(ctx context.Context, mobile string) (*model.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identifier, ok := s.byMobile[mobile]
	if !ok {
		return nil, model.ErrSubjectNotFound
	}
	return copySubject(s.subjects[identifier]), nil
}

func (s *SubjectStore) PutSubject(ctx context.Context, subject *model.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.subjects[subject.Identifier]; ok {
		if prior.Email != subject.Email {
			delete(s.byEmail, prior.Email)
		}
		if prior.Mobile != subject.Mobile {
			delete(s.byMobile, prior.Mobile)
		}
	}

	stored := copySubject(subject)
	stored.UpdatedAt = time.Now().UTC()
	s.subjects[subject.Identifier] = stored
	if subject.Email != "" {
		s.byEmail[subject.Email] = subject.Identifier
	}
	if subject.Mobile != "" {
		s.byMobile[subject.Mobile] = subject.Identifier
	}
	return nil
}

func (s *SubjectStore) DeleteSubject(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[identifier]
	if !ok {
		return model.ErrSubjectNotFound
	}
	delete(s.byEmail, subject.Email)
	delete(s.byMobile, subject.Mobile)
	delete(s.subjects, identifier)
	return nil
}

// copySubject returns a deep copy so callers never alias stored state.
func copySubject(in *model.Subject) *model.Subject {
	out := *in
	if in.BiometricTemplate != nil {
		out.BiometricTemplate = make([]byte, len(in.BiometricTemplate))
		copy(out.BiometricTemplate, in.BiometricTemplate)
	}
	return &out
}
