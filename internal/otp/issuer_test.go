package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"postal-service/internal/config"
	"postal-service/internal/hashing"
	"postal-service/internal/model"
	"postal-service/internal/repository/memory"
)

type IssuerSuite struct {
	suite.Suite
	ctx    context.Context
	store  *memory.TransactionStore
	issuer *Issuer
	clock  time.Time
}

func (s *IssuerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewTransactionStore()

	hasher := hashing.NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
	})

	s.issuer = NewIssuer(s.store, hasher, 4, 5*time.Minute)
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.issuer.SetClock(func() time.Time { return s.clock })
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func (s *IssuerSuite) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func (s *IssuerSuite) TestIssueAndConfirm() {
	tx, code, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)
	s.Len(code, 4)
	s.Equal(model.TxPending, tx.Status)
	s.Equal(tx.IssuedAt.Add(5*time.Minute), tx.ExpiresAt)

	confirmed, err := s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.Require().NoError(err)
	s.Equal(model.TxConfirmed, confirmed.Status)
}

func (s *IssuerSuite) TestConfirmWithinTTL() {
	tx, code, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)

	// 299 seconds in, still inside the 5-minute window.
	s.advance(299 * time.Second)
	confirmed, err := s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.Require().NoError(err)
	s.Equal(model.TxConfirmed, confirmed.Status)
}

func (s *IssuerSuite) TestConfirmAfterExpiry() {
	tx, code, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)

	// One second past the window; even the correct code is rejected.
	s.advance(301 * time.Second)
	expired, err := s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.Require().ErrorIs(err, ErrOTPExpired)
	s.Equal(model.TxExpired, expired.Status)

	// The rejection is sticky.
	_, err = s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.ErrorIs(err, ErrOTPExpired)
}

func (s *IssuerSuite) TestMismatchKeepsTransactionPending() {
	tx, code, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)

	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}

	_, err = s.issuer.Confirm(s.ctx, tx.TransactionID, wrong)
	s.Require().ErrorIs(err, ErrOTPMismatch)

	// The correct code still works afterwards.
	confirmed, err := s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.Require().NoError(err)
	s.Equal(model.TxConfirmed, confirmed.Status)
}

func (s *IssuerSuite) TestDoubleConfirmIsConflict() {
	tx, code, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)

	_, err = s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.Require().NoError(err)

	_, err = s.issuer.Confirm(s.ctx, tx.TransactionID, code)
	s.ErrorIs(err, ErrAlreadyConfirmed)
}

func (s *IssuerSuite) TestReissueInvalidatesPriorCode() {
	first, firstCode, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)

	second, secondCode, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)
	s.NotEqual(first.TransactionID, second.TransactionID)

	// The superseded transaction is expired even though its TTL has not run out.
	_, err = s.issuer.Confirm(s.ctx, first.TransactionID, firstCode)
	s.ErrorIs(err, ErrOTPExpired)

	confirmed, err := s.issuer.Confirm(s.ctx, second.TransactionID, secondCode)
	s.Require().NoError(err)
	s.Equal(model.TxConfirmed, confirmed.Status)
}

func (s *IssuerSuite) TestIntentsAreIndependent() {
	send, sendCode, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)

	// Issuing for RECEIVE must not invalidate the SEND transaction.
	receive, receiveCode, err := s.issuer.Issue(s.ctx, "subject-1", model.IntentReceive)
	s.Require().NoError(err)

	_, err = s.issuer.Confirm(s.ctx, send.TransactionID, sendCode)
	s.NoError(err)
	_, err = s.issuer.Confirm(s.ctx, receive.TransactionID, receiveCode)
	s.NoError(err)
}

func (s *IssuerSuite) TestConfirmUnknownTransaction() {
	_, err := s.issuer.Confirm(s.ctx, "no-such-transaction", "1234")
	s.ErrorIs(err, ErrTransactionNotFound)
}
