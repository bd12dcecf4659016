package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/models"
	"github.com/energymon-server/energymon-server/pkg/crypto"
)

// Envelope verification errors
var (
	ErrMissingField   = errors.New("envelope field missing")
	ErrReplayRejected = errors.New("nonce replay rejected")
	ErrBase64         = errors.New("payload is not valid base64")
	ErrDecrypt        = errors.New("payload decryption failed")
	ErrUTF8           = errors.New("plaintext is not valid UTF-8")
	ErrMACMismatch    = errors.New("mac mismatch")
)

// Verifier authenticates secured envelopes exchanged with devices.
// Devices poll over plain HTTP from networks without end-to-end session
// security, so every message carries its own HMAC and a strictly
// increasing per-device nonce.
type Verifier struct {
	nonces  *NonceStore
	hmacKey []byte
	aesKey  []byte
	aesIV   []byte
}

// NewVerifier creates an envelope verifier. aesKey/aesIV are the fixed
// pre-shared AES-128-CBC parameters used when a device opts into payload
// encryption.
func NewVerifier(nonces *NonceStore, hmacKey, aesKey, aesIV []byte) *Verifier {
	return &Verifier{
		nonces:  nonces,
		hmacKey: hmacKey,
		aesKey:  aesKey,
		aesIV:   aesIV,
	}
}

// Verify authenticates an inbound envelope and returns the plaintext.
// Check order matters: cheap structural checks first, the replay window
// before any crypto, and the nonce is committed only after the MAC
// verifies. Failures have no side effects.
func (v *Verifier) Verify(env *models.SecuredEnvelope, deviceID string) ([]byte, error) {
	if env == nil || env.Nonce == 0 || env.Payload == "" || env.MAC == "" {
		return nil, ErrMissingField
	}

	// Precheck against the last accepted nonce. Equal and smaller are
	// both replays; devices never reuse a counter value.
	if env.Nonce <= v.nonces.Last(deviceID) {
		return nil, fmt.Errorf("%w: nonce %d, last accepted %d", ErrReplayRejected, env.Nonce, v.nonces.Last(deviceID))
	}

	raw, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64, err)
	}

	plaintext := raw
	if env.Encrypted {
		plaintext, err = crypto.DecryptCBC(v.aesKey, v.aesIV, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
	}

	if !utf8.Valid(plaintext) {
		return nil, ErrUTF8
	}

	if !crypto.VerifyEnvelopeMAC(v.hmacKey, env.Nonce, plaintext, env.MAC) {
		return nil, ErrMACMismatch
	}

	// Commit the nonce. Advance rechecks monotonicity under the store
	// lock so two concurrent requests with the same nonce cannot both
	// succeed.
	if !v.nonces.Advance(deviceID, env.Nonce) {
		return nil, fmt.Errorf("%w: nonce %d raced", ErrReplayRejected, env.Nonce)
	}

	log.Debug().
		Str("deviceID", deviceID).
		Uint32("nonce", env.Nonce).
		Bool("encrypted", env.Encrypted).
		Msg("Envelope verified")

	return plaintext, nil
}

// Create produces an outbound authenticated envelope, drawing the next
// nonce from the same per-device counter used for verification.
func (v *Verifier) Create(plaintext []byte, deviceID string, encrypt bool) (*models.SecuredEnvelope, error) {
	nonce := v.nonces.Next(deviceID)

	body := plaintext
	if encrypt {
		var err error
		body, err = crypto.EncryptCBC(v.aesKey, v.aesIV, plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypt payload: %w", err)
		}
	}

	return &models.SecuredEnvelope{
		Nonce:     nonce,
		Payload:   base64.StdEncoding.EncodeToString(body),
		MAC:       crypto.ComputeEnvelopeMAC(v.hmacKey, nonce, plaintext),
		Encrypted: encrypt,
	}, nil
}

// LastNonce exposes the device's last accepted nonce for persistence
func (v *Verifier) LastNonce(deviceID string) uint32 {
	return v.nonces.Last(deviceID)
}
