// Package security holds the broker's cryptographic and request-hardening
// primitives.
//
// # Secret encryption
//
// Encryptor seals team secrets with AES-256-GCM using a random 128-bit IV per
// value. The stored form is
//
//	<iv_hex>:<ciphertext_hex>:<tag_hex>
//
// and Decrypt rejects any other shape before touching the cipher. Every
// decryption failure wraps apperrors.ErrDecryption, so callers can treat the
// affected record as unusable without inspecting the cause.
//
// # Key bootstrap
//
// LoadKeyFile reads a hex key from disk. A missing file is an error unless
// KeyFileOptions.AllowGeneration is set:
//
//	key, err := security.LoadKeyFile("/etc/team-broker/encryption.key", security.KeyFileOptions{})
//	if errors.Is(err, security.ErrKeyNotProvisioned) {
//	    // provision the key through the secret manager
//	}
//
// # Rate limiting
//
// RateLimiter is a keyed token bucket with LRU eviction, used on the login
// and registration endpoints:
//
//	limiter := security.NewRateLimiter(10, 5, logger) // 10/min, burst 5
//	defer limiter.Stop()
//	if !limiter.Allow("login:" + ip) {
//	    // 429
//	}
package security
