package security

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrKeyNotProvisioned is returned by LoadKeyFile when the key file is
// missing and generation was not allowed.
var ErrKeyNotProvisioned = errors.New("encryption key not provisioned")

// KeyFileOptions controls LoadKeyFile.
type KeyFileOptions struct {
	// AllowGeneration writes a fresh random key when the file is missing.
	// The file is plaintext on local disk; production deployments should
	// provision the key through their secret manager instead.
	AllowGeneration bool

	Logger *slog.Logger
}

// LoadKeyFile reads a hex-encoded AES-256 key from path.
func LoadKeyFile(path string, opts KeyFileOptions) ([]byte, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	switch {
	case err == nil:
		return ParseKey(string(data))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read key file: %w", err)
	case !opts.AllowGeneration:
		return nil, fmt.Errorf("%w: %s does not exist", ErrKeyNotProvisioned, path)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	// O_EXCL so two processes starting together cannot overwrite each other's key.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path comes from operator configuration
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return LoadKeyFile(path, KeyFileOptions{Logger: logger})
		}
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	logger.Warn("Generated new encryption key on local disk; provision it through a secret manager for production",
		"path", path)

	return key, nil
}
