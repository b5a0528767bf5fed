package domain

import "context"

// Artifact is a materialized submission readable by text extractors.
type Artifact interface {
	// Name is the storage name, unique per run.
	Name() string
	// Filename is the original filename of the submission.
	Filename() string
	// Bytes returns the decoded file content.
	Bytes(ctx context.Context) ([]byte, error)
}

// TextExtractor turns an artifact into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, artifact Artifact) (string, error)
}

// Classifier guesses a document type from its text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// StructuredExtractor pulls a typed record out of document text.
type StructuredExtractor interface {
	ExtractStructured(ctx context.Context, text string) (StructuredRecord, error)
}

// ReportCompiler renders reports from a structured record and its source text.
type ReportCompiler interface {
	Compile(ctx context.Context, record StructuredRecord, text string) (Reports, error)
}
