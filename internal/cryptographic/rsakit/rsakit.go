package rsakit

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	// DefaultBits matches what the browser clients generate.
	DefaultBits = 2048

	// MinBits is the weakest key length we accept.
	MinBits = 1024
)

var (
	ErrWeakKeyLength     = errors.New("rsakit: key length below safe minimum")
	ErrPlaintextTooLarge = errors.New("rsakit: plaintext exceeds key capacity")
	ErrDecryptionFailed  = errors.New("rsakit: decryption failed")
)

type (
	// KeyPair holds a PEM-encoded RSA keypair. The private half must never
	// leave the client in cleartext.
	KeyPair struct {
		PublicPEM  string
		PrivatePEM string
	}
)

// GenerateKeyPair produces a fresh RSA keypair encoded as PEM strings
// (PKIX public, PKCS#8 private).
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("%w: %d < %d", ErrWeakKeyLength, bits, MinBits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("rsa.GenerateKey: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &KeyPair{
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
	}, nil
}

// Capacity returns the largest plaintext, in bytes, that a key of the given
// bit length can carry under OAEP with SHA-256.
func Capacity(bits int) int {
	return bits/8 - 2*sha256.Size - 2
}

// Encrypt seals plaintext under the recipient's public key using RSA-OAEP
// with SHA-256 and returns the ciphertext hex-encoded.
func Encrypt(plaintext string, publicPEM string) (string, error) {
	pub, err := parsePublicKey(publicPEM)
	if err != nil {
		return "", err
	}

	if len(plaintext) > Capacity(pub.Size()*8) {
		return "", fmt.Errorf("%w: %d bytes, capacity %d", ErrPlaintextTooLarge, len(plaintext), Capacity(pub.Size()*8))
	}

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("rsa.EncryptOAEP: %w", err)
	}
	return hex.EncodeToString(ct), nil
}

// Decrypt opens hex-encoded ciphertext with the private key. A malformed or
// mismatched ciphertext yields ErrDecryptionFailed, never a panic.
func Decrypt(cipherHex string, privatePEM string) (string, error) {
	priv, err := parsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}

	ct, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad hex", ErrDecryptionFailed)
	}

	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(pt), nil
}

func parsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, errors.New("rsakit: public key is not PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("rsakit: not an RSA public key")
	}
	return pub, nil
}

func parsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("rsakit: private key is not PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("rsakit: not an RSA private key")
	}
	return priv, nil
}
