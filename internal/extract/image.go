package extract

import (
	"context"
	"strings"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/llm"
)

const transcribePrompt = `Transcribe all text visible in this image of a financial document.
Preserve the reading order. Render tables as rows with cells separated by " | ".
Output only the transcribed text with no commentary. If the image has no text, output nothing.`

// Vision transcribes images through a vision-capable model.
type Vision struct {
	llm llm.Completer
}

// NewVision creates an image extractor backed by completer.
func NewVision(completer llm.Completer) *Vision {
	return &Vision{llm: completer}
}

// Transcribe returns the text in one image.
func (v *Vision) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	out, err := v.llm.Complete(ctx, llm.Prompt{
		User:   transcribePrompt,
		Images: []llm.Image{{MimeType: mimeType, Data: data}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (v *Vision) ExtractText(ctx context.Context, a domain.Artifact) (string, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return "", domain.ExtractionError("read artifact", err)
	}
	if len(data) == 0 {
		return "", domain.ExtractionError(a.Filename()+" is empty", nil)
	}
	text, err := v.Transcribe(ctx, data, ImageMimeType(a.Filename()))
	if err != nil {
		return "", domain.ExtractionError("transcribe "+a.Filename(), err)
	}
	return text, nil
}
