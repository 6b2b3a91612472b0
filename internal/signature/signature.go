package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	// publicKeyBlockType is the PEM block type for SubjectPublicKeyInfo keys.
	publicKeyBlockType = "PUBLIC KEY"
	// privateKeyBlockType is the PEM block type for unencrypted PKCS#8 keys.
	privateKeyBlockType = "PRIVATE KEY"
)

var (
	// ErrInvalidKey is returned when key material is malformed or not Ed25519.
	ErrInvalidKey = errors.New("invalid ed25519 key")

	errNoPEMBlock = errors.New("no PEM block found")
)

// GenerateKey creates a fresh Ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	return pub, priv, nil
}

// Sign signs data with the private key.
func Sign(priv ed25519.PrivateKey, data []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key length %d: %w", len(priv), ErrInvalidKey)
	}

	return ed25519.Sign(priv, data), nil
}

// Verify reports whether sig is a valid signature of data by pub.
// Malformed keys or signatures yield false instead of panicking.
func Verify(pub ed25519.PublicKey, sig, data []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(pub, data, sig)
}

// EncodePublicKey renders the public key as PEM-encoded SubjectPublicKeyInfo.
func EncodePublicKey(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key length %d: %w", len(pub), ErrInvalidKey)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: publicKeyBlockType, Bytes: der}), nil
}

// DecodePublicKey parses a PEM-encoded SubjectPublicKeyInfo Ed25519 key.
func DecodePublicKey(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode public key: %w", errNoPEMBlock)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key of type %T: %w", key, ErrInvalidKey)
	}

	return pub, nil
}

// EncodePrivateKey renders the private key as unencrypted PKCS#8 PEM.
func EncodePrivateKey(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key length %d: %w", len(priv), ErrInvalidKey)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: privateKeyBlockType, Bytes: der}), nil
}

// DecodePrivateKey parses an unencrypted PKCS#8 PEM Ed25519 key.
func DecodePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode private key: %w", errNoPEMBlock)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key of type %T: %w", key, ErrInvalidKey)
	}

	return priv, nil
}
