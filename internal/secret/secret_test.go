package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".master-key"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name  string
		plain string
	}{
		{"short", "hunter2"},
		{"app secret", "cli_a1b2c3d4e5f6g7h8"},
		{"unicode", "密钥-ключ-🔑"},
		{"long", strings.Repeat("x", 4096)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := s.Encrypt(tt.plain)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if !IsEncrypted(enc) {
				t.Fatalf("encrypted value missing prefix: %q", enc)
			}
			dec, err := s.Decrypt(enc)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if dec != tt.plain {
				t.Errorf("roundtrip mismatch: got %q, want %q", dec, tt.plain)
			}
		})
	}
}

func TestEncrypt_Idempotent(t *testing.T) {
	s := openTestStore(t)

	enc, err := s.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.Encrypt(enc)
	if err != nil {
		t.Fatal(err)
	}
	if again != enc {
		t.Error("re-encrypting an encrypted value must be a no-op")
	}
}

func TestEncrypt_EmptyPassthrough(t *testing.T) {
	s := openTestStore(t)
	enc, err := s.Encrypt("")
	if err != nil || enc != "" {
		t.Errorf("empty secret: got %q, err %v", enc, err)
	}
}

func TestDecrypt_PlaintextPassthrough(t *testing.T) {
	s := openTestStore(t)
	dec, err := s.Decrypt("never-encrypted")
	if err != nil || dec != "never-encrypted" {
		t.Errorf("got %q, err %v", dec, err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	s := openTestStore(t)
	enc, _ := s.Encrypt("secret")

	tampered := enc[:len(enc)-4] + "AAAA"
	if tampered == enc {
		tampered = enc[:len(enc)-4] + "BBBB"
	}
	if _, err := s.Decrypt(tampered); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}

func TestDecrypt_InvalidInputs(t *testing.T) {
	s := openTestStore(t)
	tests := []struct {
		name  string
		value string
	}{
		{"bad base64", Prefix + "!!!not-base64!!!"},
		{"too short", Prefix + "AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Decrypt(tt.value); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpen_PersistsKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".master-key")

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	enc, _ := s1.Encrypt("stable")

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := s2.Decrypt(enc)
	if err != nil || dec != "stable" {
		t.Errorf("second open must reuse the key: got %q, err %v", dec, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestOpen_CorruptKeyFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".master-key")
	os.WriteFile(path, []byte("not hex"), 0600)

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for corrupt key file")
	}
}
