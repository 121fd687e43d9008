package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
)

func testKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block), key
}

func TestSigner_GenerateHeaders(t *testing.T) {
	pemBytes, key := testKeyPEM(t)
	signer, err := NewSigner("key-id-1", pemBytes)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	headers := signer.GenerateHeaders("GET", "/trade-api/v2/markets")

	if headers["KALSHI-ACCESS-KEY"] != "key-id-1" {
		t.Errorf("access key = %q, want key-id-1", headers["KALSHI-ACCESS-KEY"])
	}
	ts := headers["KALSHI-ACCESS-TIMESTAMP"]
	if len(ts) != 13 { // milliseconds
		t.Errorf("timestamp %q should be 13 digits of milliseconds", ts)
	}

	// The signature must verify as RSA-PSS over ts+METHOD+path.
	sig, err := base64.StdEncoding.DecodeString(headers["KALSHI-ACCESS-SIGNATURE"])
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	digest := sha256.Sum256([]byte(ts + "GET" + "/trade-api/v2/markets"))
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestSigner_FreshSignaturePerCall(t *testing.T) {
	pemBytes, _ := testKeyPEM(t)
	signer, err := NewSigner("key-id-1", pemBytes)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	a := signer.GenerateHeaders("GET", "/trade-api/v2/markets")
	b := signer.GenerateHeaders("GET", "/trade-api/v2/markets")
	// PSS is randomized: even with an identical timestamp two signatures
	// must differ, proving nothing is cached between calls.
	if a["KALSHI-ACCESS-SIGNATURE"] == b["KALSHI-ACCESS-SIGNATURE"] {
		t.Error("two signatures over the same payload should differ (random salt)")
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	if _, err := NewSigner("key-id-1", []byte("not a pem")); err == nil {
		t.Fatal("expected fatal error for invalid PEM")
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("junk der")}
	if _, err := NewSigner("key-id-1", pem.EncodeToMemory(block)); err == nil {
		t.Fatal("expected fatal error for corrupt key bytes")
	}
}
