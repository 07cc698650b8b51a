// Package keywrap seals a PEM private key behind a password-derived
// AES-256-GCM wrapper so it can be stored on the directory server.
package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

// Mode selects how the AES key is derived from the password.
type Mode string

const (
	// ModePBKDF2 derives the key with PBKDF2-SHA256 over a random salt.
	ModePBKDF2 Mode = "pbkdf2"

	// ModeLegacy hashes the password directly with no salt or iteration
	// count, matching the earliest client builds. Kept as explicit
	// configuration for blobs sealed by those builds.
	ModeLegacy Mode = "legacy"
)

var (
	ErrEmptyPassword = errors.New("keywrap: password cannot be empty")
	ErrWrongPassword = errors.New("keywrap: wrong password or corrupted blob")
)

// envelope is the JSON structure inside the base64 blob.
type envelope struct {
	Mode       Mode   `json:"mode"`
	Salt       []byte `json:"salt,omitempty"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal wraps privateKey with a key derived from password. The result is a
// base64 blob safe to store or send as a JSON string.
func Seal(privateKey []byte, password string, mode Mode) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	var salt []byte
	if mode != ModeLegacy {
		mode = ModePBKDF2
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return "", fmt.Errorf("rand.Read salt: %w", err)
		}
	}

	aead, err := newAEAD(password, salt, mode)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand.Read nonce: %w", err)
	}

	env := envelope{
		Mode:       mode,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, privateKey, nil),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Unseal recovers the private key from a blob produced by Seal. A wrong
// password or tampered blob yields ErrWrongPassword, never garbage bytes.
func Unseal(blob string, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrWrongPassword)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: bad envelope", ErrWrongPassword)
	}

	aead, err := newAEAD(password, env.Salt, env.Mode)
	if err != nil {
		return nil, err
	}

	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce", ErrWrongPassword)
	}

	key, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return key, nil
}

func newAEAD(password string, salt []byte, mode Mode) (cipher.AEAD, error) {
	var key []byte
	switch mode {
	case ModeLegacy:
		sum := sha256.Sum256([]byte(password))
		key = sum[:]
	default:
		key = pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}
