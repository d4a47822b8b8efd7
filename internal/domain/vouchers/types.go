package vouchers

import (
	"sort"
	"strings"

	"backoffice/internal/core/apperror"
)

// Family groups voucher types that share one numbering policy.
type Family string

const (
	FamilySales    Family = "sales"
	FamilyPurchase Family = "purchase"
	FamilyJournal  Family = "journal"
	FamilyNotes    Family = "notes"
	FamilyCash     Family = "cash"
)

// TypeInfo describes one voucher type.
type TypeInfo struct {
	// Code is embedded in every number of the type ("SV" in "SV/2425/0001")
	Code string `json:"code"`

	// Name is a display name
	Name string `json:"name"`

	// Table stores the vouchers of this type
	Table string `json:"-"`

	// Family selects the numbering policy
	Family Family `json:"family"`
}

var registry = map[string]TypeInfo{
	"SV":   {Code: "SV", Name: "Sales voucher", Table: "doc_sales_vouchers", Family: FamilySales},
	"PV":   {Code: "PV", Name: "Purchase voucher", Table: "doc_purchase_vouchers", Family: FamilyPurchase},
	"JNL":  {Code: "JNL", Name: "Journal voucher", Table: "doc_journal_vouchers", Family: FamilyJournal},
	"CN":   {Code: "CN", Name: "Credit note", Table: "doc_credit_notes", Family: FamilyNotes},
	"DN":   {Code: "DN", Name: "Debit note", Table: "doc_debit_notes", Family: FamilyNotes},
	"NSCN": {Code: "NSCN", Name: "Non-sales credit note", Table: "doc_non_sales_credit_notes", Family: FamilyNotes},
	"PMT":  {Code: "PMT", Name: "Payment voucher", Table: "doc_payment_vouchers", Family: FamilyCash},
	"RCT":  {Code: "RCT", Name: "Receipt voucher", Table: "doc_receipt_vouchers", Family: FamilyCash},
	"CTR":  {Code: "CTR", Name: "Contra voucher", Table: "doc_contra_vouchers", Family: FamilyCash},
}

// Lookup resolves a type code in any letter case.
func Lookup(code string) (TypeInfo, error) {
	info, ok := registry[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return TypeInfo{}, apperror.NewNotFound("voucher type", code)
	}
	return info, nil
}

// Types returns all voucher types ordered by code.
func Types() []TypeInfo {
	out := make([]TypeInfo, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Families returns the numbering policy families.
func Families() []Family {
	return []Family{FamilySales, FamilyPurchase, FamilyJournal, FamilyNotes, FamilyCash}
}

// ParseFamily resolves a family name in any letter case.
func ParseFamily(name string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Families() {
		if f == known {
			return f, nil
		}
	}
	return "", apperror.NewNotFound("voucher family", name)
}
