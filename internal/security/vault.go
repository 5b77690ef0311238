// Package security encrypts secrets at rest and screens user input.
package security

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrVaultSealed is returned by Open when the sealed text cannot be read.
var ErrVaultSealed = errors.New("sealed credential cannot be opened")

// Vault seals small secrets such as service account keys into a
// base64 string suitable for a JSON settings file.
type Vault struct {
	passphrase []byte
	config     *EncryptionConfig
	logger     *slog.Logger
	accesses   atomic.Int64
}

// NewVault derives keys from passphrase. A nil config selects the defaults.
func NewVault(passphrase string, config *EncryptionConfig, logger *slog.Logger) (*Vault, error) {
	if len(passphrase) < 16 {
		return nil, errors.New("vault passphrase must be at least 16 bytes")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		passphrase: []byte(passphrase),
		config:     config,
		logger:     logger.With(slog.String("component", "vault")),
	}, nil
}

// Seal encrypts plaintext.
func (v *Vault) Seal(ctx context.Context, plaintext []byte) (string, error) {
	payload, err := EncryptCredentials(plaintext, v.passphrase, v.config)
	if err != nil {
		v.audit(ctx, "seal", err)
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode sealed payload: %w", err)
	}
	v.audit(ctx, "seal", nil)
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Open decrypts text produced by Seal. The caller clears the result.
func (v *Vault) Open(ctx context.Context, sealed string) (*SecureCredentials, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		v.audit(ctx, "open", err)
		return nil, fmt.Errorf("%w: %v", ErrVaultSealed, err)
	}
	var payload EncryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		v.audit(ctx, "open", err)
		return nil, fmt.Errorf("%w: %v", ErrVaultSealed, err)
	}
	creds, err := DecryptCredentials(&payload, v.passphrase, v.config)
	if err != nil {
		v.audit(ctx, "open", err)
		return nil, fmt.Errorf("%w: %v", ErrVaultSealed, err)
	}
	v.accesses.Add(1)
	v.audit(ctx, "open", nil)
	return creds, nil
}

// Accesses counts successful Open calls.
func (v *Vault) Accesses() int64 {
	return v.accesses.Load()
}

func (v *Vault) audit(ctx context.Context, event string, err error) {
	if err != nil {
		v.logger.WarnContext(ctx, "credential access failed",
			slog.String("event_type", event),
			slog.String("error", err.Error()))
		return
	}
	v.logger.DebugContext(ctx, "credential access",
		slog.String("event_type", event),
		slog.Int64("access_count", v.accesses.Load()))
}
