package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/scrypt"
)

// EncryptionConfig defines the key derivation and AEAD parameters.
type EncryptionConfig struct {
	// SCRYPT parameters
	SCryptN      int // CPU/memory cost (32768 minimum in production)
	SCryptR      int // Block size
	SCryptP      int // Parallelization
	SCryptKeyLen int // 32 for AES-256

	// AES-GCM parameters
	NonceSize int
	TagSize   int
}

// EncryptedPayload is the at-rest form of a secret.
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
	Integrity  []byte `json:"integrity"`
	Timestamp  int64  `json:"timestamp"`
}

// SecureCredentials holds decrypted bytes until Clear is called.
type SecureCredentials struct {
	data    []byte
	cleared bool
}

// DefaultEncryptionConfig returns the production parameters.
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
		TagSize:      16,
	}
}

// Data returns the decrypted bytes, or nil after Clear.
func (sc *SecureCredentials) Data() []byte {
	if sc.cleared {
		return nil
	}
	return sc.data
}

// Clear overwrites the decrypted bytes.
func (sc *SecureCredentials) Clear() {
	if sc.cleared {
		return
	}
	for i := range sc.data {
		sc.data[i] = 0
	}
	sc.cleared = true
	sc.data = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(passphrase, salt []byte, config *EncryptionConfig) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %v", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, config.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}
	return gcm, nil
}

// EncryptCredentials encrypts plaintext with AES-256-GCM under a key derived
// from passphrase with SCRYPT and a random salt.
func EncryptCredentials(plaintext []byte, passphrase []byte, config *EncryptionConfig) (*EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(passphrase) < 16 {
		return nil, errors.New("passphrase must be at least 16 bytes")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %v", err)
	}
	gcm, err := newGCM(passphrase, salt, config)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, config.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-config.TagSize]
	authTag := sealed[len(sealed)-config.TagSize:]

	return &EncryptedPayload{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    authTag,
		Integrity:  integrityHash(ciphertext, salt, nonce),
		Timestamp:  time.Now().Unix(),
	}, nil
}

// DecryptCredentials reverses EncryptCredentials.
func DecryptCredentials(payload *EncryptedPayload, passphrase []byte, config *EncryptionConfig) (*SecureCredentials, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if len(passphrase) < 16 {
		return nil, errors.New("passphrase must be at least 16 bytes")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported payload version: %d", payload.Version)
	}

	expected := integrityHash(payload.Ciphertext, payload.Salt, payload.Nonce)
	if subtle.ConstantTimeCompare(payload.Integrity, expected) != 1 {
		return nil, errors.New("integrity verification failed - possible tampering detected")
	}

	gcm, err := newGCM(passphrase, payload.Salt, config)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(payload.Ciphertext)+len(payload.AuthTag))
	sealed = append(sealed, payload.Ciphertext...)
	sealed = append(sealed, payload.AuthTag...)
	plaintext, err := gcm.Open(nil, payload.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %v", err)
	}
	return &SecureCredentials{data: plaintext}, nil
}

func integrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte("LICENSESRV-INTEGRITY-V1"))
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

// ValidateEncryptionConfig rejects parameters weaker than the defaults.
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN < 32768 {
		return errors.New("SCryptN must be at least 32768 for high security")
	}
	if config.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	if config.TagSize != 16 {
		return errors.New("TagSize must be 16 for AES-GCM")
	}
	return nil
}

// SecureCompare performs a constant-time comparison.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
