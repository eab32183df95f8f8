// Package crypto implements the symmetric message encryption scheme.
//
// Keys are 256-bit ChaCha20-Poly1305 keys, exchanged as base64 strings.
// A ciphertext is base64(nonce || sealed) with a fresh random 96-bit nonce
// per call. The same key is handed out as a device's "public" key and kept
// as its "private" key; there is no asymmetric exchange.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/courierlink/courier/internal/fault"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the per-message nonce length in bytes.
const NonceSize = chacha20poly1305.NonceSize

var errMalformed = errors.New("malformed ciphertext")

// GenerateKey returns a fresh random key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under the base64 key and returns
// base64(nonce || sealed).
func Encrypt(plaintext []byte, key string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. A wrong key, a flipped
// bit or a malformed input all surface as a fault.KindCrypto error.
func Decrypt(ciphertext string, key string) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fault.Crypto("decrypt", errMalformed)
	}
	if len(raw) < NonceSize+aead.Overhead() {
		return nil, fault.Crypto("decrypt", errMalformed)
	}

	nonce, sealed := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fault.Crypto("decrypt", err)
	}
	return plaintext, nil
}

func newAEAD(key string) (cipher.AEAD, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fault.BadRequest("invalid key encoding")
	}
	if len(raw) != KeySize {
		return nil, fault.BadRequest("invalid key length %d, want %d", len(raw), KeySize)
	}
	return chacha20poly1305.New(raw)
}
