package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical-ai/finsight/internal/domain"
)

func TestFingerprint_Deterministic(t *testing.T) {
	content := []byte("%PDF-1.4 sample")
	first := Fingerprint(content)
	second := Fingerprint(append([]byte(nil), content...))

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, Fingerprint([]byte("%PDF-1.4 sample ")))
}

func TestFingerprint_KnownVector(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(nil))
}

func TestCacheKey(t *testing.T) {
	digest := Fingerprint([]byte("abc"))

	tests := []struct {
		name    string
		docType domain.DocumentType
		want    string
	}{
		{"resolved", domain.TypeGSTReturn, "document_cache:" + digest + ":gst_return"},
		{"unresolved", "", "document_cache:" + digest + ":auto"},
		{"unknown", domain.TypeUnknown, "document_cache:" + digest + ":unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CacheKey(digest, tt.docType))
			assert.Equal(t, CacheKey(digest, tt.docType), CacheKey(digest, tt.docType))
		})
	}
}
