package crypto

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSignQueryAtIsDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret"}
	params := url.Values{}
	params.Set("symbol", "ATOMUSDT")

	// HMAC-SHA256("secret", "symbol=ATOMUSDT&timestamp=1700000000000")
	const want = "symbol=ATOMUSDT&timestamp=1700000000000&signature=" +
		"3872c13b546d7850fed2bfeb78f2e8e364cfbaf8294f9ed1b9d8970e4b821370"
	got := auth.SignQueryAt(params, 1700000000000)
	if got != want {
		t.Fatalf("signed query\n got %s\nwant %s", got, want)
	}
}

func TestSignQueryNilParams(t *testing.T) {
	auth := &HMACAuth{Secret: "s"}
	signed := auth.SignQuery(nil)
	if !strings.Contains(signed, "timestamp=") || !strings.Contains(signed, "&signature=") {
		t.Fatalf("signed query missing timestamp or signature: %s", signed)
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef123456", Secret: "supersecretvalue"}
	s := auth.String()
	if strings.Contains(s, "123456") || strings.Contains(s, "secretvalue") {
		t.Fatalf("credentials leaked into %q", s)
	}
	if !strings.Contains(s, "abcd****") {
		t.Fatalf("expected redacted key prefix in %q", s)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "my-api-secret" {
		t.Fatalf("round trip = %q", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatal("wrong password must fail authentication")
	}
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Fatal("empty secret must be rejected")
	}
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Fatal("empty password must be rejected")
	}
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	// Raw secret wins outright.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedSecretPath: "/nonexistent"})
	if err != nil || got != "raw" {
		t.Fatalf("got %q, %v", got, err)
	}

	// File path decrypts.
	blob, err := EncryptSecret("from-file", "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.enc")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, SecretPassword: "pw"})
	if err != nil || got != "from-file" {
		t.Fatalf("got %q, %v", got, err)
	}

	// Nothing configured is an error.
	if _, err := LoadSecret(SecretConfig{}); err == nil {
		t.Fatal("empty config must error")
	}
}
