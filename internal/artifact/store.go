// Package artifact holds a submission's decoded bytes for the lifetime of
// one pipeline run.
package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"path"
	"strings"
	"unicode"

	"github.com/spherical-ai/finsight/internal/domain"
)

// NamePrefix starts every artifact name.
const NamePrefix = "finsight_"

// ErrAlreadyReleased is returned when a handle is released twice.
var ErrAlreadyReleased = errors.New("artifact already released")

// ErrForeignHandle is returned when a handle is released by a store that did
// not create it.
var ErrForeignHandle = errors.New("handle does not belong to this store")

// Handle is a materialized submission.
type Handle interface {
	domain.Artifact
	Size() int64
}

// Store materializes submissions and releases them when a run ends.
// Release must be called exactly once for every successful Materialize.
type Store interface {
	Materialize(ctx context.Context, runID string, sub domain.Submission) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// Decode decodes base64 content. Whitespace and line breaks are ignored and
// missing padding is tolerated.
func Decode(content string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, content)

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err == nil {
		return data, nil
	}
	if !strings.HasSuffix(cleaned, "=") {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(cleaned); rawErr == nil {
			return raw, nil
		}
	}
	return nil, domain.DecodeError("content is not valid base64", err)
}

// BaseName returns the last path element of a client-supplied filename.
// Both slash styles are treated as separators.
func BaseName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch base {
	case ".", "/", "..", "":
		return "document"
	}
	return base
}

// Name derives the run-scoped artifact name.
func Name(runID, filename string) string {
	return NamePrefix + runID + "_" + BaseName(filename)
}
