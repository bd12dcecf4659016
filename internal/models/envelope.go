package models

// SecuredEnvelope is the outer authenticated container wrapping every
// device message. The MAC covers the big-endian nonce concatenated with
// the plaintext payload; the nonce is a per-device strictly increasing
// counter.
type SecuredEnvelope struct {
	Nonce     uint32 `json:"nonce"`
	Payload   string `json:"payload"` // base64
	MAC       string `json:"mac"`     // 64-char lowercase hex
	Encrypted bool   `json:"encrypted"`
}
