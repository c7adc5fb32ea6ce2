package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"postal-service/internal/client"
	"postal-service/internal/model"
	"postal-service/internal/util"
)

const (
	txKeyPrefix      = "tx:"
	pendingKeyPrefix = "pending:"

	// Records outlive their expiry by a grace window so a late confirm gets a
	// precise "expired" answer instead of "not found".
	expiryGrace = 30 * time.Minute
)

// TransactionStore keeps OTP transactions in Redis with TTL eviction. A
// secondary key maps each (subject, intent) pair to its PENDING transaction.
type TransactionStore struct {
	redis *client.RedisClient
}

func NewTransactionStore(redisClient *client.RedisClient) *TransactionStore {
	return &TransactionStore{redis: redisClient}
}

// stored is the Redis document. CodeHash must round-trip even though the
// model hides it from JSON responses.
type stored struct {
	TransactionID     string                  `json:"transaction_id"`
	SubjectIdentifier string                  `json:"subject_identifier"`
	Intent            model.Intent            `json:"intent"`
	CodeHash          string                  `json:"code_hash"`
	IssuedAt          time.Time               `json:"issued_at"`
	ExpiresAt         time.Time               `json:"expires_at"`
	Status            model.TransactionStatus `json:"status"`
}

func toStored(tx *model.Transaction) *stored {
	return &stored{
		TransactionID:     tx.TransactionID,
		SubjectIdentifier: tx.SubjectIdentifier,
		Intent:            tx.Intent,
		CodeHash:          tx.CodeHash,
		IssuedAt:          tx.IssuedAt,
		ExpiresAt:         tx.ExpiresAt,
		Status:            tx.Status,
	}
}

func (s *stored) toModel() *model.Transaction {
	return &model.Transaction{
		TransactionID:     s.TransactionID,
		SubjectIdentifier: s.SubjectIdentifier,
		Intent:            s.Intent,
		CodeHash:          s.CodeHash,
		IssuedAt:          s.IssuedAt,
		ExpiresAt:         s.ExpiresAt,
		Status:            s.Status,
	}
}

func txKey(transactionID string) string {
	return txKeyPrefix + transactionID
}

func pendingKey(subjectIdentifier string, intent model.Intent) string {
	return fmt.Sprintf("%s%s:%s", pendingKeyPrefix, subjectIdentifier, intent)
}

func retention(tx *model.Transaction) time.Duration {
	ttl := time.Until(tx.ExpiresAt) + expiryGrace
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func (s *TransactionStore) Put(ctx context.Context, tx *model.Transaction) error {
	data, err := json.Marshal(toStored(tx))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	ttl := retention(tx)
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, txKey(tx.TransactionID), data, ttl)
	if tx.Status == model.TxPending {
		pipe.Set(ctx, pendingKey(tx.SubjectIdentifier, tx.Intent), tx.TransactionID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store transaction: %w", err)
	}

	util.Debug("Transaction stored",
		zap.String("transaction_id", tx.TransactionID),
		zap.Duration("ttl", ttl),
	)
	return nil
}

func (s *TransactionStore) Get(ctx context.Context, transactionID string) (*model.Transaction, error) {
	data, err := s.redis.Get(ctx, txKey(transactionID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	var doc stored
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return doc.toModel(), nil
}

func (s *TransactionStore) GetPending(ctx context.Context, subjectIdentifier string, intent model.Intent) (*model.Transaction, error) {
	transactionID, err := s.redis.Get(ctx, pendingKey(subjectIdentifier, intent))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pending index: %w", err)
	}

	tx, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil || tx.Status != model.TxPending {
		return nil, nil
	}
	return tx, nil
}

func (s *TransactionStore) Update(ctx context.Context, tx *model.Transaction) error {
	data, err := json.Marshal(toStored(tx))
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, txKey(tx.TransactionID), data, retention(tx))
	if tx.Status != model.TxPending {
		// Drop the pending index only if it still points at this transaction;
		// a reissue may have already claimed the key.
		current, err := s.redis.Get(ctx, pendingKey(tx.SubjectIdentifier, tx.Intent))
		if err == nil && current == tx.TransactionID {
			pipe.Del(ctx, pendingKey(tx.SubjectIdentifier, tx.Intent))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}
