package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-contact-sync/core"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// AppKeyVault encrypts tokens with a single application key using
// AES-256-GCM. Blobs are base64(nonce | tag | ciphertext).
type AppKeyVault struct {
	aead cipher.AEAD
	rand io.Reader
}

func NewAppKeyVault(key []byte) (*AppKeyVault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("security: vault key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return &AppKeyVault{aead: aead, rand: rand.Reader}, nil
}

// NewAppKeyVaultFromHex accepts the key as 64 hex characters.
func NewAppKeyVaultFromHex(encoded string) (*AppKeyVault, error) {
	encoded = strings.TrimSpace(encoded)
	if len(encoded) != keySize*2 {
		return nil, fmt.Errorf("security: vault key must be %d hex characters", keySize*2)
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("security: vault key is not valid hex: %w", err)
	}
	return NewAppKeyVault(key)
}

func (v *AppKeyVault) Encrypt(_ context.Context, plaintext string) (string, error) {
	if v == nil || v.aead == nil {
		return "", fmt.Errorf("security: vault is not initialized")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}

	// Seal appends the tag after the ciphertext; the stored layout puts it first.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt fails closed: any malformed, truncated, tampered or foreign blob
// yields a *core.CredentialDecryptionError and no plaintext.
func (v *AppKeyVault) Decrypt(_ context.Context, blob string) (string, error) {
	if v == nil || v.aead == nil {
		return "", &core.CredentialDecryptionError{Cause: fmt.Errorf("vault is not initialized")}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return "", &core.CredentialDecryptionError{Cause: fmt.Errorf("decode blob: %w", err)}
	}
	if len(raw) < nonceSize+tagSize {
		return "", &core.CredentialDecryptionError{Cause: fmt.Errorf("blob too short: %d bytes", len(raw))}
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ciphertext := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &core.CredentialDecryptionError{Cause: err}
	}
	return string(plaintext), nil
}

var _ core.CredentialVault = (*AppKeyVault)(nil)
