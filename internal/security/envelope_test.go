package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energymon-server/energymon-server/internal/models"
	"github.com/energymon-server/energymon-server/pkg/crypto"
)

var (
	testHMACKey = []byte("energymon-test-hmac-key")
	testAESKey  = []byte("0123456789abcdef")
	testAESIV   = []byte("fedcba9876543210")
)

func newTestVerifier() *Verifier {
	return NewVerifier(NewNonceStore(), testHMACKey, testAESKey, testAESIV)
}

func makeEnvelope(nonce uint32, plaintext string) *models.SecuredEnvelope {
	return &models.SecuredEnvelope{
		Nonce:   nonce,
		Payload: base64.StdEncoding.EncodeToString([]byte(plaintext)),
		MAC:     crypto.ComputeEnvelopeMAC(testHMACKey, nonce, []byte(plaintext)),
	}
}

func TestVerifyAcceptsThenRejectsReplay(t *testing.T) {
	v := newTestVerifier()

	env := makeEnvelope(10001, `{"a":1}`)

	plaintext, err := v.Verify(env, "meter-001")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(plaintext))
	assert.Equal(t, uint32(10001), v.LastNonce("meter-001"))

	// Identical envelope again
	_, err = v.Verify(env, "meter-001")
	assert.ErrorIs(t, err, ErrReplayRejected)

	// Older nonce after a newer one was accepted
	_, err = v.Verify(makeEnvelope(9000, `{"a":1}`), "meter-001")
	assert.ErrorIs(t, err, ErrReplayRejected)
}

func TestVerifyNoncesAreIndependentPerDevice(t *testing.T) {
	v := newTestVerifier()

	_, err := v.Verify(makeEnvelope(50, `{"v":1}`), "meter-a")
	require.NoError(t, err)

	// Lower nonce, different device: fine
	_, err = v.Verify(makeEnvelope(10, `{"v":2}`), "meter-b")
	require.NoError(t, err)
}

func TestVerifyMissingFields(t *testing.T) {
	v := newTestVerifier()

	cases := []struct {
		name string
		env  *models.SecuredEnvelope
	}{
		{"nil envelope", nil},
		{"zero nonce", &models.SecuredEnvelope{Payload: "aGk=", MAC: "ab"}},
		{"empty payload", &models.SecuredEnvelope{Nonce: 1, MAC: "ab"}},
		{"empty mac", &models.SecuredEnvelope{Nonce: 1, Payload: "aGk="}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.env, "meter-001")
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := newTestVerifier()

	plaintext := []byte(`{"reading":42}`)
	env := makeEnvelope(7, string(plaintext))

	// Flip one bit of the payload and re-encode
	tampered := make([]byte, len(plaintext))
	copy(tampered, plaintext)
	tampered[3] ^= 0x01
	env.Payload = base64.StdEncoding.EncodeToString(tampered)

	_, err := v.Verify(env, "meter-001")
	assert.ErrorIs(t, err, ErrMACMismatch)

	// No nonce must have been committed on failure
	assert.Equal(t, uint32(0), v.LastNonce("meter-001"))
}

func TestVerifyRejectsTamperedMAC(t *testing.T) {
	v := newTestVerifier()

	env := makeEnvelope(7, `{"reading":42}`)
	mac := []byte(env.MAC)
	if mac[0] == '0' {
		mac[0] = '1'
	} else {
		mac[0] = '0'
	}
	env.MAC = string(mac)

	_, err := v.Verify(env, "meter-001")
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestVerifyRejectsBadBase64(t *testing.T) {
	v := newTestVerifier()

	env := makeEnvelope(3, `{}`)
	env.Payload = "!!! not base64 !!!"

	_, err := v.Verify(env, "meter-001")
	assert.ErrorIs(t, err, ErrBase64)
}

func TestVerifyRejectsUndecryptablePayload(t *testing.T) {
	v := newTestVerifier()

	env := makeEnvelope(3, `{}`)
	// Not a multiple of the AES block size
	env.Payload = base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	env.Encrypted = true

	_, err := v.Verify(env, "meter-001")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestVerifyRejectsInvalidUTF8(t *testing.T) {
	v := newTestVerifier()

	bad := []byte{0xff, 0xfe, 0xfd}
	body, err := crypto.EncryptCBC(testAESKey, testAESIV, bad)
	require.NoError(t, err)

	env := &models.SecuredEnvelope{
		Nonce:     4,
		Payload:   base64.StdEncoding.EncodeToString(body),
		MAC:       crypto.ComputeEnvelopeMAC(testHMACKey, 4, bad),
		Encrypted: true,
	}

	_, err = v.Verify(env, "meter-001")
	assert.ErrorIs(t, err, ErrUTF8)
}

func TestCreateVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier()

	for _, encrypt := range []bool{false, true} {
		env, err := v.Create([]byte(`{"cmd":"reboot"}`), "meter-009", encrypt)
		require.NoError(t, err)
		assert.Len(t, env.MAC, 64)

		// A peer sharing the key material and counter state verifies it
		peer := NewVerifier(NewNonceStore(), testHMACKey, testAESKey, testAESIV)
		plaintext, err := peer.Verify(env, "meter-009")
		require.NoError(t, err)
		assert.Equal(t, `{"cmd":"reboot"}`, string(plaintext))
	}
}

func TestCreateDrawsMonotonicNonces(t *testing.T) {
	v := newTestVerifier()

	first, err := v.Create([]byte(`{}`), "meter-002", false)
	require.NoError(t, err)
	second, err := v.Create([]byte(`{}`), "meter-002", false)
	require.NoError(t, err)

	assert.Greater(t, second.Nonce, first.Nonce)
}
