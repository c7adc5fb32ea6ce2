package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"postal-service/internal/model"
)

type TransactionStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *TransactionStore
}

func (s *TransactionStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewTransactionStore()
}

func TestTransactionStoreSuite(t *testing.T) {
	suite.Run(t, new(TransactionStoreSuite))
}

func (s *TransactionStoreSuite) newTx(id, subject string, intent model.Intent) *model.Transaction {
	now := time.Now().UTC()
	return &model.Transaction{
		TransactionID:     id,
		SubjectIdentifier: subject,
		Intent:            intent,
		CodeHash:          "argon2id$salt$hash",
		IssuedAt:          now,
		ExpiresAt:         now.Add(5 * time.Minute),
		Status:            model.TxPending,
	}
}

func (s *TransactionStoreSuite) TestPutAndGet() {
	tx := s.newTx("tx-1", "subject-1", model.IntentSend)
	s.Require().NoError(s.store.Put(s.ctx, tx))

	found, err := s.store.Get(s.ctx, "tx-1")
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(model.TxPending, found.Status)

	missing, err := s.store.Get(s.ctx, "tx-unknown")
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *TransactionStoreSuite) TestPendingIndexPerPair() {
	s.Require().NoError(s.store.Put(s.ctx, s.newTx("tx-send", "subject-1", model.IntentSend)))
	s.Require().NoError(s.store.Put(s.ctx, s.newTx("tx-recv", "subject-1", model.IntentReceive)))

	pending, err := s.store.GetPending(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)
	s.Require().NotNil(pending)
	s.Equal("tx-send", pending.TransactionID)

	pending, err = s.store.GetPending(s.ctx, "subject-1", model.IntentReceive)
	s.Require().NoError(err)
	s.Require().NotNil(pending)
	s.Equal("tx-recv", pending.TransactionID)

	pending, err = s.store.GetPending(s.ctx, "subject-2", model.IntentSend)
	s.Require().NoError(err)
	s.Nil(pending)
}

func (s *TransactionStoreSuite) TestUpdateClearsPendingIndex() {
	tx := s.newTx("tx-1", "subject-1", model.IntentSend)
	s.Require().NoError(s.store.Put(s.ctx, tx))

	tx.Status = model.TxConfirmed
	s.Require().NoError(s.store.Update(s.ctx, tx))

	pending, err := s.store.GetPending(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)
	s.Nil(pending)

	found, err := s.store.Get(s.ctx, "tx-1")
	s.Require().NoError(err)
	s.Equal(model.TxConfirmed, found.Status)
}

func (s *TransactionStoreSuite) TestNewerPendingSurvivesExpiryOfOlder() {
	older := s.newTx("tx-old", "subject-1", model.IntentSend)
	s.Require().NoError(s.store.Put(s.ctx, older))

	newer := s.newTx("tx-new", "subject-1", model.IntentSend)
	s.Require().NoError(s.store.Put(s.ctx, newer))

	// Expiring the superseded transaction must not drop the newer index entry.
	older.Status = model.TxExpired
	s.Require().NoError(s.store.Update(s.ctx, older))

	pending, err := s.store.GetPending(s.ctx, "subject-1", model.IntentSend)
	s.Require().NoError(err)
	s.Require().NotNil(pending)
	s.Equal("tx-new", pending.TransactionID)
}
