package extract

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
)

const defaultOCRQuality = 85

// PDF extracts the text layer of a PDF page by page. Scanned documents with
// no text layer are rendered and sent to the page transcriber when one is
// configured.
type PDF struct {
	ocr         PageTranscriber
	maxOCRPages int
	logger      *observability.Logger
}

// PageTranscriber reads text from a rendered page image.
type PageTranscriber interface {
	Transcribe(ctx context.Context, jpegData []byte, mimeType string) (string, error)
}

// NewPDF creates a PDF extractor. ocr may be nil.
func NewPDF(ocr PageTranscriber, maxOCRPages int, logger *observability.Logger) *PDF {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if maxOCRPages <= 0 {
		maxOCRPages = 20
	}
	return &PDF{ocr: ocr, maxOCRPages: maxOCRPages, logger: logger}
}

// PageCount validates data as a PDF in relaxed mode and returns its page count.
func PageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *PDF) ExtractText(ctx context.Context, a domain.Artifact) (string, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return "", domain.ExtractionError("read artifact", err)
	}

	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return "", domain.UnsupportedFormatError(a.Filename()+" is not a PDF", nil)
	}

	validated, err := PageCount(data)
	if err != nil {
		// pdfcpu is stricter than MuPDF; let the renderer have a go.
		p.logger.Warn().Err(err).Str("filename", a.Filename()).Msg("PDF failed validation, continuing with renderer")
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", domain.ExtractionError("open PDF", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if validated > 0 && validated != pages {
		p.logger.Debug().Int("pdfcpu_pages", validated).Int("pages", pages).Msg("Page count mismatch between parsers")
	}
	if pages == 0 {
		return "", domain.ExtractionError(a.Filename()+" has no pages", nil)
	}

	var sb strings.Builder
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(i)
		if err != nil {
			return "", domain.ExtractionError(fmt.Sprintf("read page %d", i+1), err)
		}
		writePage(&sb, i+1, text)
	}

	out := strings.TrimSpace(sb.String())
	if strings.TrimSpace(stripPageMarkers(out)) != "" || p.ocr == nil {
		return out, nil
	}

	p.logger.Info().Str("filename", a.Filename()).Int("pages", pages).Msg("PDF has no text layer, transcribing rendered pages")
	return p.transcribe(ctx, doc, pages)
}

func (p *PDF) transcribe(ctx context.Context, doc *fitz.Document, pages int) (string, error) {
	if pages > p.maxOCRPages {
		p.logger.Warn().Int("pages", pages).Int("limit", p.maxOCRPages).Msg("Transcribing only the first pages")
		pages = p.maxOCRPages
	}

	var sb strings.Builder
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		img, err := doc.Image(i)
		if err != nil {
			return "", domain.ExtractionError(fmt.Sprintf("render page %d", i+1), err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: defaultOCRQuality}); err != nil {
			return "", domain.ExtractionError(fmt.Sprintf("encode page %d", i+1), err)
		}

		text, err := p.ocr.Transcribe(ctx, buf.Bytes(), "image/jpeg")
		if err != nil {
			return "", domain.ExtractionError(fmt.Sprintf("transcribe page %d", i+1), err)
		}
		writePage(&sb, i+1, text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func writePage(sb *strings.Builder, page int, text string) {
	fmt.Fprintf(sb, "--- Page %d ---\n", page)
	sb.WriteString(strings.TrimSpace(text))
	sb.WriteString("\n\n")
}

func stripPageMarkers(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "--- Page ") && strings.HasSuffix(line, " ---") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
