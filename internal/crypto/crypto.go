// Package crypto provides the symmetric cipher guarding secret material and
// the access-key masking used by listings.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
)

const (
	keySize = 32 // AES-256

	// PBKDF2 parameters matching the credential records already in the
	// field; changing them invalidates every stored secret.
	kdfIterations = 100_000

	// DefaultVisibleChars is the number of access-key characters listings
	// expose.
	DefaultVisibleChars = 4
)

// KeyConfig describes how the process-lifetime encryption key is obtained.
// Exactly one source is used, in order of precedence: Key, then
// Salt+Password, then a generated key (development only).
type KeyConfig struct {
	// Key is a base64-encoded 32-byte key.
	Key string
	// Salt and Password feed PBKDF2-HMAC-SHA256 when no explicit key is set.
	Salt     string
	Password string
	// Environment gates generated keys: anything but "development" rejects
	// them, since a restart would make existing secrets unrecoverable.
	Environment string
}

// Cipher performs AES-256-GCM encryption with a fixed key and a fresh nonce
// per call.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the key per cfg and constructs the cipher.
func NewCipher(cfg KeyConfig) (*Cipher, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewCipherWithKey(key)
}

// NewCipherWithKey constructs a cipher from raw key bytes.
func NewCipherWithKey(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, svcerr.CryptoError(fmt.Sprintf("encryption key must be %d bytes, got %d", keySize, len(key)), nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, svcerr.CryptoError("initialise cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, svcerr.CryptoError("initialise GCM", err)
	}
	return &Cipher{aead: aead}, nil
}

func deriveKey(cfg KeyConfig) ([]byte, error) {
	if raw := strings.TrimSpace(cfg.Key); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			key, err = base64.URLEncoding.DecodeString(raw)
		}
		if err != nil {
			return nil, svcerr.CryptoError("encryption key must be base64", err)
		}
		if len(key) != keySize {
			return nil, svcerr.CryptoError(fmt.Sprintf("encryption key must decode to %d bytes", keySize), nil)
		}
		return key, nil
	}

	if cfg.Salt != "" && cfg.Password != "" {
		return pbkdf2.Key([]byte(cfg.Password), []byte(cfg.Salt), kdfIterations, keySize, sha256.New), nil
	}

	if cfg.Environment != "development" {
		return nil, svcerr.CryptoError("no key material configured; refusing to generate an ephemeral key outside development", nil)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, svcerr.CryptoError("generate key", err)
	}
	return key, nil
}

// Encrypt seals plaintext with a fresh nonce. Output layout: nonce || ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, svcerr.CryptoError("generate nonce", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, svcerr.CryptoError("ciphertext truncated", nil)
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, svcerr.CryptoError("decrypt", err)
	}
	return plaintext, nil
}

// EncryptString encrypts a string and base64-encodes the result for storage
// in a text field.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	sealed, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", svcerr.CryptoError("ciphertext is not base64", err)
	}
	plaintext, err := c.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// MaskAccessKey keeps the first visibleChars characters and masks the rest.
// Values no longer than visibleChars are fully masked so short keys are
// never disclosed whole.
func MaskAccessKey(accessKey string, visibleChars int) string {
	if accessKey == "" {
		return ""
	}
	if visibleChars < 0 {
		visibleChars = 0
	}
	if len(accessKey) <= visibleChars {
		return strings.Repeat("*", len(accessKey))
	}
	return accessKey[:visibleChars] + strings.Repeat("*", len(accessKey)-visibleChars)
}
