package structured

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/llm"
)

type namedExtractor string

func (n namedExtractor) ExtractStructured(context.Context, string) (domain.StructuredRecord, error) {
	return domain.StructuredRecord{"by": string(n)}, nil
}

func fullRegistry() *Registry {
	r := NewRegistry()
	for _, t := range domain.KnownTypes() {
		r.Register(t, namedExtractor(t))
	}
	return r
}

func TestSelector_Select(t *testing.T) {
	s := NewSelector(fullRegistry(), nil, "")

	tests := []struct {
		name     string
		resolved domain.DocumentType
		text     string
		wantType domain.DocumentType
		wantBy   string
		wantVia  string
	}{
		{"exact match beats keywords", domain.TypeInvoice, "bank gst salary", domain.TypeInvoice, "invoice", ByType},
		{"bank keyword", domain.TypeUnknown, "HDFC BANK statement", domain.TypeBankStatement, "bank_statement", ByKeyword},
		{"gst keyword", domain.TypeUnknown, "GSTR-3B summary GST", domain.TypeGSTReturn, "gst_return", ByKeyword},
		{"bank outranks gst", domain.TypeUnknown, "GST paid via bank", domain.TypeBankStatement, "bank_statement", ByKeyword},
		{"profit and loss needs both", domain.TypeUnknown, "Profit and Loss account", domain.TypeProfitLoss, "profit_loss", ByKeyword},
		{"profit alone falls back", domain.TypeUnknown, "profit margin", domain.TypeUnknown, "bank_statement", ByFallback},
		{"salary keyword", domain.TypeUnknown, "Monthly SALARY details", domain.TypeSalarySlip, "salary_slip", ByKeyword},
		{"nothing matches", domain.TypeUnknown, "lorem ipsum", domain.TypeUnknown, "bank_statement", ByFallback},
		{"empty resolved treated as unknown", "", "gst", domain.TypeGSTReturn, "gst_return", ByKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := s.Select(tt.resolved, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, sel.Type)
			assert.Equal(t, tt.wantVia, sel.Via)

			rec, err := sel.Extractor.ExtractStructured(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBy, rec["by"])
		})
	}
}

func TestSelector_SkipsRulesWithoutExtractor(t *testing.T) {
	r := NewRegistry().
		Register(domain.TypeBankStatement, namedExtractor("bank")).
		Register(domain.TypeSalarySlip, namedExtractor("salary"))
	s := NewSelector(r, nil, "")

	sel, err := s.Select(domain.TypeUnknown, "gst salary")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeSalarySlip, sel.Type)
	assert.Equal(t, "salary", sel.Rule)
}

func TestSelector_KnownTypeWithoutExtractorUsesFallback(t *testing.T) {
	r := NewRegistry().Register(domain.TypeBankStatement, namedExtractor("bank"))
	sel, err := NewSelector(r, nil, "").Select(domain.TypeAuditPapers, "gst")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeAuditPapers, sel.Type)
	assert.Equal(t, ByFallback, sel.Via)
}

func TestSelector_NoFallback(t *testing.T) {
	_, err := NewSelector(NewRegistry(), nil, "").Select(domain.TypeUnknown, "x")
	assert.Equal(t, domain.KindStructuredExtraction, domain.KindOf(err))
	assert.True(t, errors.Is(err, ErrNoExtractor))
}

type fakeCompleter struct {
	out    string
	err    error
	prompt llm.Prompt
}

func (f *fakeCompleter) Complete(_ context.Context, p llm.Prompt) (string, error) {
	f.prompt = p
	return f.out, f.err
}

func TestLLMExtractor(t *testing.T) {
	fc := &fakeCompleter{out: "```json\n{\"gstin\":\"29ABCDE1234F1Z5\",\"igst\":1800}\n```"}
	e, err := NewLLMExtractor(domain.TypeGSTReturn, fc, 0)
	require.NoError(t, err)

	rec, err := e.ExtractStructured(context.Background(), "GSTR-3B")
	require.NoError(t, err)
	assert.Equal(t, "29ABCDE1234F1Z5", rec["gstin"])
	assert.Equal(t, float64(1800), rec["igst"])

	require.Contains(t, rec, "cgst")
	assert.Nil(t, rec["cgst"])
	assert.Contains(t, fc.prompt.System, "GST return")
	assert.Contains(t, fc.prompt.System, "total_tax_liability")
}

func TestLLMExtractor_Errors(t *testing.T) {
	e, err := NewLLMExtractor(domain.TypeInvoice, &fakeCompleter{err: errors.New("rate limited")}, 0)
	require.NoError(t, err)
	_, err = e.ExtractStructured(context.Background(), "x")
	assert.EqualError(t, err, "rate limited")

	_, err = NewLLMExtractor(domain.TypeUnknown, &fakeCompleter{}, 0)
	assert.Error(t, err)
}

func TestSchemas_CoverKnownTypes(t *testing.T) {
	for _, dt := range domain.KnownTypes() {
		s, ok := Schemas[dt]
		require.True(t, ok, dt)
		assert.NotEmpty(t, s.Fields, dt)
	}
	assert.Len(t, NewLLMRegistry(&fakeCompleter{}, 0).extractors, len(domain.KnownTypes()))
}
