package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"postal-service/internal/model"
)

type SubjectStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *SubjectStore
}

func (s *SubjectStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewSubjectStore()
}

func TestSubjectStoreSuite(t *testing.T) {
	suite.Run(t, new(SubjectStoreSuite))
}

func (s *SubjectStoreSuite) newSubject(identifier string) *model.Subject {
	return &model.Subject{
		Identifier:  identifier,
		DisplayName: "Test Subject",
		Mobile:      "9000000001",
		Email:       identifier + "@example.com",
		Role:        model.RoleCitizen,
	}
}

func (s *SubjectStoreSuite) TestPutAndLookups() {
	subject := s.newSubject("aadhar-1")
	s.Require().NoError(s.store.PutSubject(s.ctx, subject))

	byID, err := s.store.GetSubject(s.ctx, "aadhar-1")
	s.Require().NoError(err)
	s.Equal("Test Subject", byID.DisplayName)

	byEmail, err := s.store.GetSubjectByEmail(s.ctx, "aadhar-1@example.com")
	s.Require().NoError(err)
	s.Equal("aadhar-1", byEmail.Identifier)

	byMobile, err := s.store.GetSubjectByMobile(s.ctx, "9000000001")
	s.Require().NoError(err)
	s.Equal("aadhar-1", byMobile.Identifier)
}

func (s *SubjectStoreSuite) TestUnknownLookups() {
	_, err := s.store.GetSubject(s.ctx, "missing")
	s.ErrorIs(err, model.ErrSubjectNotFound)

	_, err = s.store.GetSubjectByEmail(s.ctx, "missing@example.com")
	s.ErrorIs(err, model.ErrSubjectNotFound)

	_, err = s.store.GetSubjectByMobile(s.ctx, "0000000000")
	s.ErrorIs(err, model.ErrSubjectNotFound)
}

func (s *SubjectStoreSuite) TestContactUpdateMovesIndexes() {
	subject := s.newSubject("aadhar-1")
	s.Require().NoError(s.store.PutSubject(s.ctx, subject))

	subject.Email = "new@example.com"
	subject.Mobile = "9000000002"
	s.Require().NoError(s.store.PutSubject(s.ctx, subject))

	_, err := s.store.GetSubjectByEmail(s.ctx, "aadhar-1@example.com")
	s.ErrorIs(err, model.ErrSubjectNotFound)

	found, err := s.store.GetSubjectByEmail(s.ctx, "new@example.com")
	s.Require().NoError(err)
	s.Equal("aadhar-1", found.Identifier)

	found, err = s.store.GetSubjectByMobile(s.ctx, "9000000002")
	s.Require().NoError(err)
	s.Equal("aadhar-1", found.Identifier)
}

func (s *SubjectStoreSuite) TestReturnedCopyDoesNotAliasStore() {
	subject := s.newSubject("aadhar-1")
	subject.BiometricTemplate = []byte{1, 2, 3}
	s.Require().NoError(s.store.PutSubject(s.ctx, subject))

	found, err := s.store.GetSubject(s.ctx, "aadhar-1")
	s.Require().NoError(err)
	found.BiometricTemplate[0] = 99
	found.Verified = true

	again, err := s.store.GetSubject(s.ctx, "aadhar-1")
	s.Require().NoError(err)
	s.Equal(byte(1), again.BiometricTemplate[0])
	s.False(again.Verified)
}

func (s *SubjectStoreSuite) TestDeleteRemovesIndexes() {
	subject := s.newSubject("aadhar-1")
	s.Require().NoError(s.store.PutSubject(s.ctx, subject))
	s.Require().NoError(s.store.DeleteSubject(s.ctx, "aadhar-1"))

	_, err := s.store.GetSubject(s.ctx, "aadhar-1")
	s.ErrorIs(err, model.ErrSubjectNotFound)
	_, err = s.store.GetSubjectByEmail(s.ctx, "aadhar-1@example.com")
	s.ErrorIs(err, model.ErrSubjectNotFound)

	s.ErrorIs(s.store.DeleteSubject(s.ctx, "aadhar-1"), model.ErrSubjectNotFound)
}
