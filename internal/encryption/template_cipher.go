package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// templateSalt is the fixed application salt for template key derivation.
// Changing it invalidates every stored template, so it is versioned in the
// value itself.
const templateSalt = "proctoring_template_salt_v1"

const derivedKeySize = 32

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// TemplateCipher encrypts biometric templates at rest with AES-256-GCM under
// a key stretched from a configured passphrase. The derived key lives only in
// memory; rotation means constructing a new cipher from a new passphrase and
// re-encrypting.
type TemplateCipher struct {
	aead cipher.AEAD
}

// NewTemplateCipher derives the symmetric key with PBKDF2-HMAC-SHA256 over
// the passphrase and prepares the AEAD. Iterations below 100,000 are rejected
// to keep the derivation slow enough to resist offline guessing.
func NewTemplateCipher(passphrase string, iterations int) (*TemplateCipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("template cipher: passphrase is required")
	}
	if iterations < 100_000 {
		return nil, fmt.Errorf("template cipher: at least 100000 KDF iterations required, got %d", iterations)
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(templateSalt), iterations, derivedKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return &TemplateCipher{aead: aead}, nil
}

// Encrypt seals the plaintext and prepends the random nonce to the ciphertext.
func (c *TemplateCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Corrupted input or a cipher
// built from the wrong passphrase fails the authentication tag and returns
// ErrDecryptionFailed; partial plaintext is never returned.
func (c *TemplateCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// EncryptVector serializes a feature vector and encrypts it for storage.
func (c *TemplateCipher) EncryptVector(vector []float64) ([]byte, error) {
	plaintext, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return c.Encrypt(plaintext)
}

// DecryptVector reverses EncryptVector.
func (c *TemplateCipher) DecryptVector(ciphertext []byte) ([]float64, error) {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	var vector []float64
	if err := json.Unmarshal(plaintext, &vector); err != nil {
		return nil, fmt.Errorf("%w: malformed template payload", ErrDecryptionFailed)
	}
	return vector, nil
}
