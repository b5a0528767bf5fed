package structured

import "github.com/spherical-ai/finsight/internal/domain"

// Field is one key the extractor asks the model to fill.
type Field struct {
	Name        string
	Description string
}

// Schema describes the record produced for one document type.
type Schema struct {
	Title  string
	Fields []Field
}

var lineItems = Field{"line_items", "array of {description, hsn_sac, quantity, rate, amount}"}

// Schemas holds the record layout of every known document type.
var Schemas = map[domain.DocumentType]Schema{
	domain.TypeBankStatement: {
		Title: "bank statement",
		Fields: []Field{
			{"account_holder", "name of the account holder"},
			{"account_number", "account number as printed"},
			{"bank_name", "name of the bank"},
			{"ifsc", "IFSC code, if present"},
			{"statement_period", "object {from, to} with ISO dates"},
			{"opening_balance", "number"},
			{"closing_balance", "number"},
			{"transactions", "array of {date, description, debit, credit, balance}"},
		},
	},
	domain.TypeGSTReturn: {
		Title: "GST return",
		Fields: []Field{
			{"gstin", "GSTIN of the filer"},
			{"legal_name", "legal name of the taxpayer"},
			{"return_type", "form, e.g. GSTR-1 or GSTR-3B"},
			{"tax_period", "month and year of the return"},
			{"taxable_value", "number"},
			{"igst", "number"},
			{"cgst", "number"},
			{"sgst", "number"},
			{"cess", "number"},
			{"itc_claimed", "input tax credit claimed, number"},
			{"total_tax_liability", "number"},
		},
	},
	domain.TypeTrialBalance: {
		Title: "trial balance",
		Fields: []Field{
			{"entity_name", "company or firm name"},
			{"period_end", "ISO date the balances are struck at"},
			{"accounts", "array of {name, group, debit, credit}"},
			{"total_debit", "number"},
			{"total_credit", "number"},
		},
	},
	domain.TypeProfitLoss: {
		Title: "profit and loss statement",
		Fields: []Field{
			{"entity_name", "company or firm name"},
			{"period", "object {from, to} with ISO dates"},
			{"revenue", "number"},
			{"other_income", "number"},
			{"cost_of_goods_sold", "number"},
			{"gross_profit", "number"},
			{"operating_expenses", "array of {name, amount}"},
			{"depreciation", "number"},
			{"tax", "number"},
			{"net_profit", "number, negative for a loss"},
		},
	},
	domain.TypeInvoice: {
		Title: "tax invoice",
		Fields: []Field{
			{"invoice_number", "invoice number"},
			{"invoice_date", "ISO date"},
			{"seller", "object {name, gstin, address}"},
			{"buyer", "object {name, gstin, address}"},
			lineItems,
			{"subtotal", "number"},
			{"tax", "object {igst, cgst, sgst}"},
			{"total", "number"},
		},
	},
	domain.TypePurchaseOrder: {
		Title: "purchase order",
		Fields: []Field{
			{"po_number", "purchase order number"},
			{"po_date", "ISO date"},
			{"buyer", "object {name, gstin, address}"},
			{"vendor", "object {name, gstin, address}"},
			lineItems,
			{"delivery_date", "ISO date"},
			{"payment_terms", "text"},
			{"total", "number"},
		},
	},
	domain.TypeSalarySlip: {
		Title: "salary slip",
		Fields: []Field{
			{"employee_name", "name"},
			{"employee_id", "identifier"},
			{"employer", "employer name"},
			{"pay_period", "month and year"},
			{"earnings", "array of {component, amount}"},
			{"deductions", "array of {component, amount}"},
			{"gross_pay", "number"},
			{"net_pay", "number"},
		},
	},
	domain.TypeBalanceSheet: {
		Title: "balance sheet",
		Fields: []Field{
			{"entity_name", "company or firm name"},
			{"as_of", "ISO date"},
			{"current_assets", "number"},
			{"non_current_assets", "number"},
			{"total_assets", "number"},
			{"current_liabilities", "number"},
			{"non_current_liabilities", "number"},
			{"total_liabilities", "number"},
			{"equity", "number"},
		},
	},
	domain.TypeAuditPapers: {
		Title: "audit working papers",
		Fields: []Field{
			{"entity_name", "audited entity"},
			{"auditor", "audit firm or partner"},
			{"financial_year", "e.g. 2023-24"},
			{"opinion", "unmodified, qualified, adverse or disclaimer"},
			{"key_findings", "array of text"},
			{"qualifications", "array of text"},
		},
	},
	domain.TypeAgreementContract: {
		Title: "agreement or contract",
		Fields: []Field{
			{"title", "agreement title"},
			{"parties", "array of {name, role}"},
			{"effective_date", "ISO date"},
			{"term", "duration or end date"},
			{"contract_value", "number, if stated"},
			{"obligations", "array of text"},
			{"termination_clause", "text"},
			{"governing_law", "jurisdiction"},
		},
	},
}
