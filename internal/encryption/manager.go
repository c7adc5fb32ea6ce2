package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"postal-service/internal/config"
	"postal-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// envelope is the stored form of an encrypted biometric template.
type envelope struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manager envelope-encrypts biometric templates before they reach the
// ledger. With KMS enabled the data key comes from AWS KMS; in development
// a locally generated key is used instead.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // cache decrypted DEKs
}

type dataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled || m.kmsClient == nil {
		return m.generateLocalKey(), nil
	}

	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      m.config.KMS.KeyID,
	}, nil
}

func (m *Manager) generateLocalKey() *dataKey {
	key := make([]byte, 32) // AES-256
	if _, err := rand.Read(key); err != nil {
		util.Fatal("Failed to generate local encryption key", zap.Error(err))
	}

	// In development the "encrypted" DEK is just base64 of the key itself.
	return &dataKey{
		Plaintext:  key,
		Ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		KeyID:      uuid.New().String(),
	}
}

// EncryptTemplate seals a biometric feature vector into an opaque envelope.
func (m *Manager) EncryptTemplate(ctx context.Context, template []float64) ([]byte, error) {
	plaintext, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dk.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	env := envelope{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   base64.StdEncoding.EncodeToString(dk.Ciphertext),
		KeyID:          dk.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}

	m.keyCache.Store(env.EncryptedDEK, dk.Plaintext)

	return json.Marshal(env)
}

// DecryptTemplate opens an envelope produced by EncryptTemplate.
func (m *Manager) DecryptTemplate(ctx context.Context, sealed []byte) ([]float64, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if cached, ok := m.keyCache.Load(env.EncryptedDEK); ok {
		plaintextDEK = cached.([]byte)
	} else {
		dek, err := m.decryptDEK(ctx, env.EncryptedDEK)
		if err != nil {
			return nil, err
		}
		plaintextDEK = dek
		m.keyCache.Store(env.EncryptedDEK, plaintextDEK)
	}

	plaintext, err := m.decryptWithKey(env.EncryptedValue, plaintextDEK)
	if err != nil {
		return nil, err
	}

	var template []float64
	if err := json.Unmarshal(plaintext, &template); err != nil {
		return nil, fmt.Errorf("%w: invalid template payload", ErrDecryptionFailed)
	}
	return template, nil
}

func (m *Manager) decryptDEK(ctx context.Context, encodedDEK string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	if !m.config.KMS.Enabled || m.kmsClient == nil {
		// In development the DEK ciphertext is base64 of the raw key.
		key, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
		return key, nil
	}

	result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
	}
	return result.Plaintext, nil
}

func (m *Manager) decryptWithKey(encryptedValue string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// ClearCache drops cached DEKs.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
