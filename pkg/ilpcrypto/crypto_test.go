package ilpcrypto

import "testing"

func testSecret() []byte {
	b := make([]byte, SecretLen)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestDeriveKeyDeterministic(t *testing.T) {
	s := testSecret()
	k1, err := DeriveKey(s, LabelFulfillment)
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := DeriveKey(s, LabelFulfillment)
	if string(k1) != string(k2) {
		t.Fatal("derivation must be deterministic")
	}
	k3, _ := DeriveKey(s, LabelEncryption)
	if string(k1) == string(k3) {
		t.Fatal("different labels must derive different keys")
	}
}

func TestDeriveKeyShortSecret(t *testing.T) {
	if _, err := DeriveKey([]byte("short"), LabelEncryption); err != ErrShortSecret {
		t.Fatalf("expected ErrShortSecret, got %v", err)
	}
}

func TestSealOpenRoundtrip(t *testing.T) {
	secret := testSecret()
	plaintext := []byte("stream packet payload")
	sealed, err := Seal(secret, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed) != NonceLen+len(plaintext)+TagLen {
		t.Fatalf("unexpected sealed length %d", len(sealed))
	}
	opened, err := Open(secret, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("got %q want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedData(t *testing.T) {
	secret := testSecret()
	sealed, _ := Seal(secret, []byte("data"))
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := Open(secret, sealed); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestFulfillmentIntegrity(t *testing.T) {
	secret := testSecret()
	payload := []byte("encrypted-payload-bytes")
	f, err := Fulfillment(secret, payload)
	if err != nil {
		t.Fatal(err)
	}
	f2, _ := Fulfillment(secret, payload)
	if f != f2 {
		t.Fatal("fulfillment must be a pure function of (secret, payload)")
	}
	c1 := Condition(f)
	c2 := Condition(f)
	if c1 != c2 {
		t.Fatal("condition must be deterministic")
	}
}

func TestSharedSecretFromToken(t *testing.T) {
	serverSecret := testSecret()
	token := []byte("connection-token-bytes")
	s1, err := SharedSecretFromToken(serverSecret, token)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := SharedSecretFromToken(serverSecret, token)
	if string(s1) != string(s2) {
		t.Fatal("shared secret derivation must be deterministic")
	}
	other, _ := SharedSecretFromToken(serverSecret, []byte("different-token"))
	if string(s1) == string(other) {
		t.Fatal("different tokens must yield different shared secrets")
	}
}
