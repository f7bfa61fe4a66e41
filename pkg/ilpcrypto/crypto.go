// Package ilpcrypto implements the key-derivation, payload-sealing, and
// fulfillment/condition primitives. Every key is derived
// deterministically from a single 32-byte process secret via HMAC-SHA256
// with fixed label strings, deriving every signed artifact the process
// issues from one root secret.
package ilpcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

// Label strings used for HMAC-based key derivation. Fixed size, fixed content.
const (
	LabelSharedSecret  = "ilp_stream_shared_secret"
	LabelTagEncryption = "ilp_stream_tag_encryption_aes"
	LabelFulfillment   = "ilp_stream_fulfillment"
	LabelEncryption    = "ilp_stream_encryption"
	LabelAddressToken  = "ilp_stream_address_token"
)

// SecretLen is the required length of the process secret and of any key
// derived from it.
const SecretLen = 32

// NonceLen is the AES-GCM nonce length prepended to every sealed payload.
const NonceLen = 12

// TagLen is the AES-GCM authentication tag length appended to ciphertext.
const TagLen = 16

// ErrShortSecret is returned when a key material input is shorter than
// SecretLen.
var ErrShortSecret = errors.New("ilpcrypto: secret must be at least 32 bytes")

// ErrCiphertextTooShort is returned when sealed data is too short to contain
// a nonce and tag.
var ErrCiphertextTooShort = errors.New("ilpcrypto: ciphertext shorter than nonce+tag")

// DeriveKey computes HMAC-SHA256(secret, label) — the one primitive every
// other derivation in this package is built from.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	if len(secret) < SecretLen {
		return nil, ErrShortSecret
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(label))
	return mac.Sum(nil), nil
}

// SharedSecretFromToken derives the end-to-end shared secret for a stream
// connection from the node's process secret and the per-connection server
// token embedded in the destination address ("the sender can
// derive the shared secret solely from the destination address + knowledge
// of the server secret if and only if it is the server").
func SharedSecretFromToken(serverSecret, token []byte) ([]byte, error) {
	key, err := DeriveKey(serverSecret, LabelSharedSecret)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(token)
	return mac.Sum(nil), nil
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from
// sharedSecret, prepending a random 12-byte nonce and appending the 16-byte
// tag (both are part of AES-GCM's standard Seal output when the nonce is
// passed as the dst prefix).
func Seal(sharedSecret, plaintext []byte) ([]byte, error) {
	key, err := DeriveKey(sharedSecret, LabelEncryption)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+TagLen)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts data sealed by Seal under sharedSecret.
func Open(sharedSecret, data []byte) ([]byte, error) {
	if len(data) < NonceLen+TagLen {
		return nil, ErrCiphertextTooShort
	}
	key, err := DeriveKey(sharedSecret, LabelEncryption)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext := data[:NonceLen], data[NonceLen:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Fulfillment computes HMAC-SHA256(hmac_key_from(sharedSecret), encryptedPayload),
//
func Fulfillment(sharedSecret, encryptedPayload []byte) ([32]byte, error) {
	key, err := DeriveKey(sharedSecret, LabelFulfillment)
	if err != nil {
		return [32]byte{}, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(encryptedPayload)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// Condition computes SHA256(fulfillment), the value carried in Prepare.ExecutionCondition.
func Condition(fulfillment [32]byte) [32]byte {
	return sha256.Sum256(fulfillment[:])
}

// RandomSecret returns a fresh cryptographically random 32-byte secret,
// suitable for a process's secret_seed or a per-connection server token.
func RandomSecret() ([]byte, error) {
	b := make([]byte, SecretLen)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
