package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"postal-service/internal/hashing"
	"postal-service/internal/model"
	"postal-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOTPExpired          = errors.New("otp expired")
	ErrOTPMismatch         = errors.New("otp code mismatch")
	ErrAlreadyConfirmed    = errors.New("transaction already confirmed")
)

// Issuer generates and confirms one-time codes. Codes are drawn uniformly
// from a fixed-width numeric space and stored hashed; expiry is validated
// before code equality. At most one PENDING transaction exists per
// (subject, intent) pair: issuing a new one expires the prior one.
type Issuer struct {
	store      model.TransactionStore
	hasher     *hashing.Hasher
	codeLength int
	ttl        time.Duration
	now        func() time.Time
}

func NewIssuer(store model.TransactionStore, hasher *hashing.Hasher, codeLength int, ttl time.Duration) *Issuer {
	return &Issuer{
		store:      store,
		hasher:     hasher,
		codeLength: codeLength,
		ttl:        ttl,
		now:        time.Now,
	}
}

// SetClock overrides the issuer's time source. Test hook.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// TTL returns the configured transaction time-to-live.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue creates a PENDING transaction for the pair and returns it together
// with the plaintext code. The code never touches the store unhashed.
func (i *Issuer) Issue(ctx context.Context, subjectIdentifier string, intent model.Intent) (*model.Transaction, string, error) {
	// Invalidate any prior PENDING transaction for the same pair so a stale
	// code can never be confirmed after a newer one was issued.
	if prior, err := i.store.GetPending(ctx, subjectIdentifier, intent); err != nil {
		return nil, "", fmt.Errorf("failed to check pending transaction: %w", err)
	} else if prior != nil {
		prior.Status = model.TxExpired
		if err := i.store.Update(ctx, prior); err != nil {
			return nil, "", fmt.Errorf("failed to expire prior transaction: %w", err)
		}
		util.Info("Prior pending transaction invalidated by reissue",
			zap.String("transaction_id", prior.TransactionID),
			zap.String("subject", subjectIdentifier),
			zap.String("intent", string(intent)),
		)
	}

	code, err := i.generateCode()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := i.hasher.HashOTP(code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash code: %w", err)
	}

	issuedAt := i.now().UTC()
	tx := &model.Transaction{
		TransactionID:     uuid.New().String(),
		SubjectIdentifier: subjectIdentifier,
		Intent:            intent,
		CodeHash:          codeHash,
		IssuedAt:          issuedAt,
		ExpiresAt:         issuedAt.Add(i.ttl),
		Status:            model.TxPending,
	}

	if err := i.store.Put(ctx, tx); err != nil {
		return nil, "", fmt.Errorf("failed to store transaction: %w", err)
	}

	util.Info("OTP issued",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("subject", subjectIdentifier),
		zap.String("intent", string(intent)),
		zap.Time("expires_at", tx.ExpiresAt),
	)

	return tx, code, nil
}

// Confirm validates the code for a transaction. Expiry is checked before
// equality; a CONFIRMED transaction is terminal and a second confirm is a
// conflict, never a double grant. On mismatch the transaction stays PENDING.
func (i *Issuer) Confirm(ctx context.Context, transactionID, code string) (*model.Transaction, error) {
	tx, err := i.store.Get(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}

	switch tx.Status {
	case model.TxConfirmed:
		return tx, ErrAlreadyConfirmed
	case model.TxExpired:
		return tx, ErrOTPExpired
	}

	if i.now().After(tx.ExpiresAt) {
		// Lazy expiry on access; no background sweep needed for these
		// ephemeral, low-volume records.
		tx.Status = model.TxExpired
		if err := i.store.Update(ctx, tx); err != nil {
			util.Warn("Failed to persist lazy expiry", zap.Error(err),
				zap.String("transaction_id", tx.TransactionID))
		}
		return tx, ErrOTPExpired
	}

	ok, err := i.hasher.VerifyOTP(code, tx.CodeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		return tx, ErrOTPMismatch
	}

	tx.Status = model.TxConfirmed
	if err := i.store.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to confirm transaction: %w", err)
	}

	util.Info("OTP confirmed",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("subject", tx.SubjectIdentifier),
		zap.String("intent", string(tx.Intent)),
	)

	return tx, nil
}

// generateCode draws a zero-padded numeric code uniformly from [0, 10^len).
// Collisions across different pairs are acceptable: only the (pair) key is
// unique, never the code itself.
func (i *Issuer) generateCode() (string, error) {
	max := big.NewInt(1)
	for n := 0; n < i.codeLength; n++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", i.codeLength, v), nil
}
