package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/finsight/internal/domain"
)

func TestSummaryCompiler(t *testing.T) {
	record := domain.StructuredRecord{
		"account_number":  "50100|123",
		"closing_balance": 1520.5,
		"ifsc":            nil,
		"transactions":    []any{map[string]any{"debit": 10}, map[string]any{"credit": 5}},
		"statement_period": map[string]any{
			"from": "2024-04-01",
			"to":   "2024-04-30",
		},
	}

	reports, err := NewSummaryCompiler(domain.TypeBankStatement).Compile(context.Background(), record, "line one\nline two")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	summary := reports[SummaryReport]
	assert.Equal(t, "markdown", summary.Format)
	assert.Contains(t, summary.Content, "# Bank Statement summary")
	assert.Contains(t, summary.Content, `| account_number | 50100\|123 |`)
	assert.Contains(t, summary.Content, "| closing_balance | 1520.5 |")
	assert.NotContains(t, summary.Content, "ifsc")
	assert.Contains(t, summary.Content, "- statement_period: 2 fields")
	assert.Contains(t, summary.Content, "- transactions: 2 entries")
	assert.Contains(t, summary.Content, "Source text: 17 characters, 2 lines.")

	sheet := reports[DataReport]
	assert.Equal(t, "yaml", sheet.Format)

	var decoded struct {
		DocumentType string         `yaml:"document_type"`
		Data         map[string]any `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(sheet.Content), &decoded))
	assert.Equal(t, "bank_statement", decoded.DocumentType)
	assert.Equal(t, "50100|123", decoded.Data["account_number"])
}

func TestSummaryCompiler_EmptyRecord(t *testing.T) {
	reports, err := NewSummaryCompiler(domain.TypeGSTReturn).Compile(context.Background(), domain.StructuredRecord{}, "")
	require.NoError(t, err)
	assert.Contains(t, reports[SummaryReport].Content, "# GST Return summary")
	assert.NotContains(t, reports[SummaryReport].Content, "## Sections")
	assert.Contains(t, reports[SummaryReport].Content, "0 characters, 0 lines")
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	for _, dt := range domain.KnownTypes() {
		_, ok := r.Lookup(dt)
		assert.True(t, ok, dt)
	}
	_, ok := r.Lookup(domain.TypeUnknown)
	assert.False(t, ok)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Profit Loss", titleCase(domain.TypeProfitLoss))
	assert.Equal(t, "Agreement Contract", titleCase(domain.TypeAgreementContract))
}
