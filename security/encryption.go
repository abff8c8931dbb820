package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/giantswarm/team-broker/apperrors"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// ivSize is the GCM nonce length. Stored values use a 128-bit IV instead
	// of the 96-bit GCM default so records written by earlier deployments
	// remain readable.
	ivSize = 16

	tagSize = 16
)

// Encryptor seals team secrets at rest using AES-256-GCM.
//
// Sealed values have the form <iv_hex>:<ciphertext_hex>:<tag_hex>. Any other
// shape is rejected as corrupted before decryption is attempted.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates a new encryptor. The key must be exactly 32 bytes.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random IV.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal appends the tag to the ciphertext; it is stored as its own segment.
	sealed := e.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt opens a value produced by Encrypt. Every failure, whether a
// malformed value, a wrong key or tampered data, wraps apperrors.ErrDecryption.
func (e *Encryptor) Decrypt(sealed string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", apperrors.ErrDecryption, len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: malformed iv", apperrors.ErrDecryption)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", apperrors.ErrDecryption)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: malformed tag", apperrors.ErrDecryption)
	}

	plaintext, err := e.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", apperrors.ErrDecryption)
	}

	return string(plaintext), nil
}

// GenerateKey generates a new 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// ParseKey decodes a key given as hex (64 chars) or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}

	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is neither hex nor base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
