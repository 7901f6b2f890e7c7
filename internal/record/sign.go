package record

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrBadID        = errors.New("record: id does not match content")
	ErrBadSignature = errors.New("record: invalid signature")
)

// KeyPair is an author signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKey creates a new random signing identity.
func GenerateKey() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeedHex restores an identity from its hex-encoded 32-byte seed.
func KeyPairFromSeedHex(seedHex string) (KeyPair, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return KeyPair{}, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// AuthorHex is the author field value for this identity.
func (k KeyPair) AuthorHex() string { return hex.EncodeToString(k.Public) }

// SeedHex is the portable secret for this identity.
func (k KeyPair) SeedHex() string { return hex.EncodeToString(k.Private.Seed()) }

// ComputeID hashes the canonical serialization of r.
func ComputeID(r Record) (string, error) {
	tags := r.Tags
	if tags == nil {
		tags = []Tag{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]interface{}{0, r.Author, r.CreatedAt, r.Kind, tags, r.Content}); err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}

// Sign sets Author, ID and Sig on r.
func Sign(r *Record, k KeyPair) error {
	r.Author = k.AuthorHex()
	id, err := ComputeID(*r)
	if err != nil {
		return err
	}
	idBytes, _ := hex.DecodeString(id)
	r.ID = id
	r.Sig = hex.EncodeToString(ed25519.Sign(k.Private, idBytes))
	return nil
}

// Verify checks that r's ID matches its content and that Sig is a valid
// signature by Author.
func Verify(r Record) error {
	id, err := ComputeID(r)
	if err != nil {
		return err
	}
	if id != r.ID {
		return ErrBadID
	}
	pub, err := hex.DecodeString(r.Author)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad author key", ErrBadSignature)
	}
	sig, err := hex.DecodeString(r.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed", ErrBadSignature)
	}
	idBytes, _ := hex.DecodeString(r.ID)
	if !ed25519.Verify(ed25519.PublicKey(pub), idBytes, sig) {
		return ErrBadSignature
	}
	return nil
}
