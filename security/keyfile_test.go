package security

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKeyFile_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encryption.key")

	_, err := LoadKeyFile(path, KeyFileOptions{})
	if !errors.Is(err, ErrKeyNotProvisioned) {
		t.Fatalf("LoadKeyFile() error = %v, want ErrKeyNotProvisioned", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("LoadKeyFile() must not create a key without AllowGeneration")
	}
}

func TestLoadKeyFile_Generate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "encryption.key")

	key, err := LoadKeyFile(path, KeyFileOptions{AllowGeneration: true})
	if err != nil {
		t.Fatalf("LoadKeyFile() error = %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("key length = %d, want %d", len(key), KeySize)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}

	// A second load returns the persisted key instead of generating again.
	again, err := LoadKeyFile(path, KeyFileOptions{AllowGeneration: true})
	if err != nil {
		t.Fatalf("LoadKeyFile() second call error = %v", err)
	}
	if !bytes.Equal(key, again) {
		t.Error("LoadKeyFile() generated a new key although one was persisted")
	}
}

func TestLoadKeyFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encryption.key")
	if err := os.WriteFile(path, []byte("too-short"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadKeyFile(path, KeyFileOptions{AllowGeneration: true}); err == nil {
		t.Error("LoadKeyFile() should reject a malformed key instead of replacing it")
	}
}
