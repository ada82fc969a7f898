// Package security encrypts message text at rest. All sessions share one
// static symmetric key; per-session envelope keys are a known gap, not
// something callers may rely on being fixed here.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// DecryptFallback is returned whenever a stored blob cannot be decrypted.
// Decryption is total: viewers always get some displayable string.
const DecryptFallback = "[unreadable message]"

// Codec performs AES-256-GCM encryption with a nonce-prefixed, base64
// encoded wire format.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("security: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromHex builds a Codec from a hex-encoded 32-byte key.
func NewCodecFromHex(keyHex string) (*Codec, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("security: decode key: %w", err)
	}
	return NewCodec(key)
}

// Encrypt seals plaintext as base64(nonce|ciphertext). The empty string maps
// to the empty string so attachment-only messages store no blob.
func (c *Codec) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		// rand.Reader failing means the process is unusable anyway.
		panic(fmt.Sprintf("security: read nonce: %v", err))
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt opens a blob produced by Encrypt. It never returns an error:
// malformed or tampered input degrades to DecryptFallback, and the empty
// string round-trips to itself.
func (c *Codec) Decrypt(encoded string) string {
	if encoded == "" {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return DecryptFallback
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return DecryptFallback
	}
	plaintext, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return DecryptFallback
	}
	return string(plaintext)
}
