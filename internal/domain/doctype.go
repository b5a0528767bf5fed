package domain

import "strings"

// DocumentType is the normalized classification of a submitted document.
type DocumentType string

const (
	TypeBankStatement     DocumentType = "bank_statement"
	TypeGSTReturn         DocumentType = "gst_return"
	TypeTrialBalance      DocumentType = "trial_balance"
	TypeProfitLoss        DocumentType = "profit_loss"
	TypeInvoice           DocumentType = "invoice"
	TypePurchaseOrder     DocumentType = "purchase_order"
	TypeSalarySlip        DocumentType = "salary_slip"
	TypeBalanceSheet      DocumentType = "balance_sheet"
	TypeAuditPapers       DocumentType = "audit_papers"
	TypeAgreementContract DocumentType = "agreement_contract"
	TypeUnknown           DocumentType = "unknown"
)

// knownTypes is ordered; keyword fallback priority follows this order.
var knownTypes = []DocumentType{
	TypeBankStatement,
	TypeGSTReturn,
	TypeTrialBalance,
	TypeProfitLoss,
	TypeInvoice,
	TypePurchaseOrder,
	TypeSalarySlip,
	TypeBalanceSheet,
	TypeAuditPapers,
	TypeAgreementContract,
}

// KnownTypes returns every recognized type except unknown, in priority order.
func KnownTypes() []DocumentType {
	out := make([]DocumentType, len(knownTypes))
	copy(out, knownTypes)
	return out
}

// NormalizeTypeName lower-cases a free-form type name and replaces spaces
// and hyphens with underscores.
func NormalizeTypeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	return strings.ReplaceAll(n, "-", "_")
}

// ParseDocumentType normalizes name and maps it onto the enumeration.
// Names outside the enumeration resolve to TypeUnknown with ok=false.
func ParseDocumentType(name string) (DocumentType, bool) {
	n := DocumentType(NormalizeTypeName(name))
	if n == TypeUnknown {
		return TypeUnknown, true
	}
	for _, t := range knownTypes {
		if t == n {
			return t, true
		}
	}
	return TypeUnknown, false
}

// IsKnown reports whether t is one of the recognized types (not unknown).
func (t DocumentType) IsKnown() bool {
	for _, k := range knownTypes {
		if k == t {
			return true
		}
	}
	return false
}

func (t DocumentType) String() string {
	return string(t)
}
