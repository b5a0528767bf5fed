package extract

import (
	"context"
	"unicode/utf8"

	"github.com/spherical-ai/finsight/internal/domain"
)

// PlainText reads the artifact as UTF-8 text.
type PlainText struct{}

func (PlainText) ExtractText(ctx context.Context, a domain.Artifact) (string, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return "", domain.ExtractionError("read artifact", err)
	}
	if !utf8.Valid(data) {
		return "", domain.UnsupportedFormatError(a.Filename()+" is not UTF-8 text", nil)
	}
	return string(data), nil
}
