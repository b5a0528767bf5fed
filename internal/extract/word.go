package extract

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv/v2"

	"github.com/spherical-ai/finsight/internal/domain"
)

// Word reads the text of an OOXML word-processing document. Legacy binary
// .doc files are rejected as unsupported.
type Word struct{}

func (Word) ExtractText(ctx context.Context, a domain.Artifact) (string, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return "", domain.ExtractionError("read artifact", err)
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return "", domain.UnsupportedFormatError(a.Filename()+" is not an OOXML document", nil)
	}

	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", domain.ExtractionError("parse "+a.Filename(), err)
	}
	return strings.TrimSpace(text), nil
}
