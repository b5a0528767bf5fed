package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
)

// Router dispatches an artifact to the extractor registered for its format.
type Router struct {
	extractors map[Format]domain.TextExtractor
	logger     *observability.Logger
}

// NewRouter creates an empty router. Register extractors with Handle.
func NewRouter(logger *observability.Logger) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Router{
		extractors: make(map[Format]domain.TextExtractor),
		logger:     logger,
	}
}

// Handle registers e for format f, replacing any previous registration.
func (r *Router) Handle(f Format, e domain.TextExtractor) *Router {
	r.extractors[f] = e
	return r
}

// Has reports whether format f has an extractor.
func (r *Router) Has(f Format) bool {
	_, ok := r.extractors[f]
	return ok
}

// ExtractText runs the extractor for the artifact's filename. Errors that do
// not already carry a kind are reported as ExtractionError.
func (r *Router) ExtractText(ctx context.Context, a domain.Artifact) (string, error) {
	format := FormatFor(a.Filename())
	e, ok := r.extractors[format]
	if !ok {
		return "", domain.UnsupportedFormatError(fmt.Sprintf("no %s extractor configured for %s", format, a.Filename()), nil)
	}

	text, err := e.ExtractText(ctx, a)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return "", err
		}
		return "", domain.ExtractionError(fmt.Sprintf("%s extraction failed for %s", format, a.Filename()), err)
	}

	r.logger.Debug().
		Str("filename", a.Filename()).
		Str("format", string(format)).
		Int("chars", len(text)).
		Msg("Text extracted")
	return text, nil
}
