// Package seal encrypts record content between two box key pairs using
// NaCl box (Curve25519, XSalsa20, Poly1305).
//
// Ciphertext is base64(nonce || box). Private session logs are sealed by
// the owner to their own public key.
package seal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// ErrDecrypt is returned for any ciphertext that cannot be opened.
var ErrDecrypt = errors.New("seal: decryption failed")

// Key is a Curve25519 box key.
type Key = [32]byte

// KeyPair holds a box identity.
type KeyPair struct {
	Public  *Key
	Private *Key
}

// GenerateKeyPair creates a random box identity.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate box key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromPrivateHex restores a box identity from its hex private key.
func KeyPairFromPrivateHex(s string) (KeyPair, error) {
	priv, err := ParseKey(s)
	if err != nil {
		return KeyPair{}, err
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	var pub Key
	copy(pub[:], pubBytes)
	return KeyPair{Public: &pub, Private: priv}, nil
}

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) (*Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(b))
	}
	var k Key
	copy(k[:], b)
	return &k, nil
}

// KeyHex encodes a key for storage in tags or config.
func KeyHex(k *Key) string { return hex.EncodeToString(k[:]) }

// Encrypt seals plaintext for recipientPub using senderPriv.
func Encrypt(plaintext []byte, recipientPub, senderPriv *Key) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := box.Seal(nonce[:], plaintext, &nonce, recipientPub, senderPriv)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func Decrypt(ciphertext string, senderPub, recipientPriv *Key) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < nonceSize+box.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := box.Open(nil, raw[nonceSize:], &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
