package pipeline

import (
	"context"

	"github.com/spherical-ai/finsight/internal/domain"
)

// Outcome is the result of a stage that cannot fail a run. When Degraded is
// set, Value holds the stage's fallback and Err says why.
type Outcome[T any] struct {
	Value    T
	Degraded bool
	Err      error
}

func ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func degraded[T any](v T, err error) Outcome[T] {
	return Outcome[T]{Value: v, Degraded: true, Err: err}
}

// classify resolves the type of an undeclared document. Classifier failures
// and answers outside the enumeration degrade to unknown.
func (o *Orchestrator) classify(ctx context.Context, r *run, text string) Outcome[domain.DocumentType] {
	c, err := o.deps.Classifier.Classify(ctx, text)
	if err != nil {
		if domain.KindOf(err) != domain.KindClassification {
			err = domain.ClassificationError("classifier failed", err)
		}
		r.logger.Warn().Err(err).Str("stage", string(r.stage)).Msg("Classification failed, continuing as unknown")
		return degraded(domain.TypeUnknown, err)
	}

	t, known := domain.ParseDocumentType(c.Type)
	if !known {
		r.logger.Warn().Str("classified_as", c.Type).Msg("Classifier answer is not a known type, using unknown")
		return degraded(domain.TypeUnknown, domain.ClassificationError("unrecognized type "+c.Type, nil))
	}

	r.logger.Info().Str("document_type", string(t)).Msg("Detected document type")
	return ok(t)
}

// compile renders reports for the resolved type. A missing compiler yields
// no reports; a failing one is logged and yields no reports.
func (o *Orchestrator) compile(ctx context.Context, r *run, record domain.StructuredRecord, text string) Outcome[domain.Reports] {
	compiler, found := o.deps.Reports.Lookup(r.resolved)
	if !found {
		return ok(domain.Reports{})
	}

	reports, err := compiler.Compile(ctx, record, text)
	if err != nil {
		if domain.KindOf(err) != domain.KindReportCompilation {
			err = domain.ReportCompilationError("report compiler failed", err)
		}
		r.logger.Warn().Err(err).Str("stage", string(r.stage)).Msg("Report generation failed, continuing without reports")
		return degraded(domain.Reports{}, err)
	}
	if reports == nil {
		reports = domain.Reports{}
	}
	return ok(reports)
}
