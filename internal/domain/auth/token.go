package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// TokenPrefix marks tokens issued by the gateway. Credentials carrying it
// are never treated as external IdP assertions.
const TokenPrefix = "tgk_"

// redactLen is how many leading characters of a credential may be logged.
const redactLen = 8

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash types returned by DetectHashType.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"
)

// HashToken returns the SHA-256 hex hash of the raw token.
// Direct store lookups use this value.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashTokenArgon2id returns an Argon2id hash of the raw token in PHC format.
func HashTokenArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

// GenerateToken returns a new random token carrying TokenPrefix.
func GenerateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(b), nil
}

// DetectHashType identifies the hash algorithm used for a stored hash.
func DetectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return HashTypeArgon2id
	}
	if strings.HasPrefix(stored, "sha256:") {
		return HashTypeSHA256
	}
	// Bare SHA-256 hex is exactly 64 hex characters
	if len(stored) == 64 && isHexString(stored) {
		return HashTypeSHA256
	}
	return HashTypeUnknown
}

// NormalizeHash returns the lookup key for a stored SHA-256 hash and false
// for any other hash type.
func NormalizeHash(stored string) (string, bool) {
	if DetectHashType(stored) != HashTypeSHA256 {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(stored, "sha256:")), true
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyToken verifies a raw token against a stored hash.
// Returns (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyToken(raw, stored string) (bool, error) {
	switch DetectHashType(stored) {
	case HashTypeArgon2id:
		return safeArgon2idCompare(raw, stored)
	case HashTypeSHA256:
		expected, _ := NormalizeHash(stored)
		return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare converts panics from malformed PHC parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(raw, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, stored)
}

// Redact returns a fixed-length prefix of a credential safe for logging.
func Redact(raw string) string {
	if len(raw) <= redactLen {
		return strings.Repeat("*", len(raw))
	}
	return raw[:redactLen] + "..."
}
