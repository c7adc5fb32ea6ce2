package memory

import (
	"context"
	"sync"

	"postal-service/internal/model"
)

// TransactionStore is an in-memory TransactionStore used in development and
// tests. Records are kept forever; the volume during a handshake is tiny and
// the process is short-lived in the environments that use this store.
type TransactionStore struct {
	mu      sync.RWMutex
	txs     map[string]*model.Transaction
	pending map[string]string // (subject, intent) -> transaction id
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		txs:     make(map[string]*model.Transaction),
		pending: make(map[string]string),
	}
}

func pairKey(subjectIdentifier string, intent model.Intent) string {
	return subjectIdentifier + ":" + string(intent)
}

func (s *TransactionStore) Put(ctx context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *tx
	s.txs[tx.TransactionID] = &stored
	if tx.Status == model.TxPending {
		s.pending[pairKey(tx.SubjectIdentifier, tx.Intent)] = tx.TransactionID
	}
	return nil
}

func (s *TransactionStore) Get(ctx context.Context, transactionID string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[transactionID]
	if !ok {
		return nil, nil
	}
	out := *tx
	return &out, nil
}

func (s *TransactionStore) GetPending(ctx context.Context, subjectIdentifier string, intent model.Intent) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pending[pairKey(subjectIdentifier, intent)]
	if !ok {
		return nil, nil
	}
	tx, ok := s.txs[id]
	if !ok || tx.Status != model.TxPending {
		return nil, nil
	}
	out := *tx
	return &out, nil
}

func (s *TransactionStore) Update(ctx context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *tx
	s.txs[tx.TransactionID] = &stored

	key := pairKey(tx.SubjectIdentifier, tx.Intent)
	if tx.Status == model.TxPending {
		s.pending[key] = tx.TransactionID
	} else if s.pending[key] == tx.TransactionID {
		delete(s.pending, key)
	}
	return nil
}
