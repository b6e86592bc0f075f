package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSealUnsealRoundTrip(t *testing.T) {
	sealed, err := SealKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("SealKey: %v", err)
	}
	got, err := UnsealKey(sealed, "hunter2")
	if err != nil {
		t.Fatalf("UnsealKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("unsealed key = %s, want %s", got, testKeyHex)
	}
}

func TestUnsealWrongPassword(t *testing.T) {
	sealed, err := SealKey(testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("SealKey: %v", err)
	}
	if _, err := UnsealKey(sealed, "wrong"); err == nil {
		t.Fatal("UnsealKey with wrong password should fail")
	}
}

func TestSealKeyRejectsBadInput(t *testing.T) {
	if _, err := SealKey(testKeyHex, ""); err == nil {
		t.Error("empty password should be rejected")
	}
	if _, err := SealKey("not-hex", "pw"); err == nil {
		t.Error("non-hex key should be rejected")
	}
	if _, err := SealKey("abcd", "pw"); err == nil {
		t.Error("short key should be rejected")
	}
}

func TestLoadTreasuryKey(t *testing.T) {
	key, err := LoadTreasuryKey(KeySource{RawHex: "0x" + testKeyHex})
	if err != nil {
		t.Fatalf("LoadTreasuryKey raw: %v", err)
	}
	if key == nil {
		t.Fatal("nil key")
	}

	sealed, err := SealKey(testKeyHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "treasury.json")
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		t.Fatal(err)
	}
	key2, err := LoadTreasuryKey(KeySource{SealedPath: path, Password: "pw"})
	if err != nil {
		t.Fatalf("LoadTreasuryKey sealed: %v", err)
	}
	if key.D.Cmp(key2.D) != 0 {
		t.Error("sealed path resolved a different key")
	}

	if _, err := LoadTreasuryKey(KeySource{}); err == nil || !strings.Contains(err.Error(), "no treasury key") {
		t.Errorf("empty source: err = %v, want no-key error", err)
	}
}
