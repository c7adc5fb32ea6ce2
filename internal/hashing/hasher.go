package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"postal-service/internal/config"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidHash = errors.New("invalid hash format")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher produces argon2id hashes for OTP codes and login credentials. A
// static pepper from config is mixed in together with a purpose context so
// hashes cannot be reused across purposes.
type Hasher struct {
	params Argon2Params
	pepper string
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		pepper: cfg.Hashing.Pepper,
	}
}

func (h *Hasher) HashOTP(code string) (string, error) {
	return h.hashWithContext(code, "otp")
}

func (h *Hasher) VerifyOTP(code, encoded string) (bool, error) {
	return h.verifyWithContext(code, encoded, "otp")
}

func (h *Hasher) HashCredential(credential string) (string, error) {
	return h.hashWithContext(credential, "credential")
}

func (h *Hasher) VerifyCredential(credential, encoded string) (bool, error) {
	return h.verifyWithContext(credential, encoded, "credential")
}

// hashWithContext returns "argon2id$<salt>$<hash>" with base64 raw-url parts.
func (h *Hasher) hashWithContext(data, context string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	contextual := data + h.pepper + context
	hash := argon2.IDKey(
		[]byte(contextual),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("argon2id$%s$%s",
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(hash),
	), nil
}

func (h *Hasher) verifyWithContext(data, encoded, context string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrInvalidHash
	}

	contextual := data + h.pepper + context
	computed := argon2.IDKey(
		[]byte(contextual),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	// Constant time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
