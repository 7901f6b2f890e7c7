package seal

import (
	"errors"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	ct, err := Encrypt([]byte("parked at level 3"), bob.Public, alice.Private)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := Decrypt(ct, alice.Public, bob.Private)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "parked at level 3" {
		t.Fatalf("plaintext = %q", pt)
	}
}

func TestDecryptFailures(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	eve, _ := GenerateKeyPair()
	ct, _ := Encrypt([]byte("x"), bob.Public, alice.Private)

	for name, c := range map[string]struct {
		ct   string
		priv *Key
	}{
		"wrong key": {ct, eve.Private},
		"not b64":   {"%%%", bob.Private},
		"truncated": {"AAAA", bob.Private},
	} {
		if _, err := Decrypt(c.ct, alice.Public, c.priv); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("%s: expected ErrDecrypt, got %v", name, err)
		}
	}
}

func TestParseKey(t *testing.T) {
	kp, _ := GenerateKeyPair()
	k, err := ParseKey(KeyHex(kp.Public))
	if err != nil || *k != *kp.Public {
		t.Fatalf("round trip failed: %v", err)
	}
	if _, err := ParseKey("00"); err == nil {
		t.Fatalf("short key accepted")
	}
}

func TestKeyPairFromPrivateHex(t *testing.T) {
	kp, _ := GenerateKeyPair()
	got, err := KeyPairFromPrivateHex(KeyHex(kp.Private))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if *got.Public != *kp.Public {
		t.Fatalf("derived public key differs")
	}
}
