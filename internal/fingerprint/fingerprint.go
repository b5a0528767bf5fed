// Package fingerprint derives content identities and result cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/spherical-ai/finsight/internal/cache"
	"github.com/spherical-ai/finsight/internal/domain"
)

const (
	// KeyPrefix namespaces result cache entries.
	KeyPrefix = "document_cache"
	// AutoType stands in for a type that is not resolved at lookup time.
	AutoType = "auto"
)

// Fingerprint returns the hex SHA-256 digest of content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CacheKey combines a digest and a resolved type into a cache key. An empty
// type becomes AutoType.
func CacheKey(digest string, docType domain.DocumentType) string {
	t := domain.NormalizeTypeName(string(docType))
	if t == "" {
		t = AutoType
	}
	return cache.CacheKey(KeyPrefix, digest, t)
}
