// Package cipher encrypts archive artifacts at rest.
//
// Every token is self-contained: base64(salt ∥ iv ∥ ciphertext). The AES-256
// key is derived per token from the master secret and the token's salt with
// PBKDF2-HMAC-SHA256, so no key material is ever stored. Tokens carry no
// authentication tag; integrity is checked separately through content hashes.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	ivSize     = aes.BlockSize
	keySize    = 32
	iterations = 100000
	headerSize = saltSize + ivSize
)

// ErrDecryption is matched by every *DecryptionError.
var ErrDecryption = errors.New("decryption failed")

// ErrEmptySecret is returned by New when no master secret is configured.
var ErrEmptySecret = errors.New("master secret is empty")

// DecryptionError reports a token that could not be decrypted. It signals
// corrupted data or a wrong master secret.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
	}
	return "decrypt: " + e.Reason
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecryption) hold for any DecryptionError.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}

// Engine encrypts and decrypts with one master secret. It is safe for
// concurrent use; the secret is read-only after construction.
type Engine struct {
	secret []byte
	random io.Reader
}

// New returns an Engine keyed by masterSecret.
func New(masterSecret string) (*Engine, error) {
	if masterSecret == "" {
		return nil, ErrEmptySecret
	}
	return &Engine{secret: []byte(masterSecret), random: rand.Reader}, nil
}

// Encrypt encrypts plaintext into a base64 token. Empty input yields "".
func (e *Engine) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return e.EncryptBytes([]byte(plaintext))
}

// Decrypt reverses Encrypt. "" decrypts to "".
func (e *Engine) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	plain, err := e.DecryptBytes(token)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", &DecryptionError{Reason: "plaintext is not valid UTF-8"}
	}
	return string(plain), nil
}

// EncryptBytes encrypts binary data into a base64 token with a fresh salt and
// IV, so equal inputs never produce equal tokens.
func (e *Engine) EncryptBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(e.random, header); err != nil {
		return "", fmt.Errorf("generate salt and iv: %w", err)
	}
	return e.seal(header[:saltSize], header[saltSize:], pad(data))
}

// DecryptBytes reverses EncryptBytes.
func (e *Engine) DecryptBytes(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &DecryptionError{Reason: "invalid base64", Err: err}
	}
	if len(raw) < headerSize {
		return nil, &DecryptionError{Reason: fmt.Sprintf("token too short: %d bytes", len(raw))}
	}
	salt, iv, body := raw[:saltSize], raw[saltSize:headerSize], raw[headerSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, &DecryptionError{Reason: "ciphertext is not a whole number of blocks"}
	}
	block, err := aes.NewCipher(e.deriveKey(salt))
	if err != nil {
		return nil, &DecryptionError{Reason: "init cipher", Err: err}
	}
	plain := make([]byte, len(body))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return unpad(plain)
}

// seal encrypts an already padded payload with the given salt and IV.
func (e *Engine) seal(salt, iv, padded []byte) (string, error) {
	block, err := aes.NewCipher(e.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	out := make([]byte, headerSize+len(padded))
	copy(out, salt)
	copy(out[saltSize:], iv)
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(out[headerSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (e *Engine) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(e.secret, salt, iterations, keySize, sha256.New)
}

// pad always appends 1 to 16 bytes, each equal to the pad length.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n < 1 || n > aes.BlockSize {
		return nil, &DecryptionError{Reason: fmt.Sprintf("invalid padding length %d", n)}
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, &DecryptionError{Reason: "inconsistent padding bytes"}
		}
	}
	return data[:len(data)-n], nil
}
