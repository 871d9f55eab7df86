package verifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
	StatusPartial Status = "PARTIAL"
)

// Summary counts documents as judged by the verifier
type Summary struct {
	ValidDocuments   int      `json:"valid_documents"`
	InvalidDocuments int      `json:"invalid_documents"`
	MissingDocuments []string `json:"missing_documents"`
}

// ExtractedInfo holds fields read from the documents. A nil field means the
// verifier could not determine it.
type ExtractedInfo struct {
	IdentityNumber *string          `json:"identity_number,omitempty"`
	TaxID          *string          `json:"tax_id,omitempty"`
	Age            *int             `json:"age,omitempty"`
	AnnualIncome   *decimal.Decimal `json:"annual_income,omitempty"`
	ExistingLoans  []string         `json:"existing_loans,omitempty"`
}

// Result is a parsed verifier report
type Result struct {
	ValidationStatus Status
	Summary          Summary
	ExtractedInfo    ExtractedInfo
	Raw              []byte
}

type wireResult struct {
	ValidationStatus Status         `json:"validation_status"`
	Summary          *Summary       `json:"validation_summary"`
	ExtractedInfo    *wireExtracted `json:"extracted_info"`
}

type wireExtracted struct {
	IdentityNumber *string          `json:"identity_number"`
	TaxID          *string          `json:"tax_id"`
	Age            *json.Number     `json:"age"`
	AnnualIncome   *decimal.Decimal `json:"annual_income"`
	ExistingLoans  json.RawMessage  `json:"existing_loans"`
}

// Parse decodes and validates verifier stdout. Any schema violation yields a
// MalformedOutputError carrying the raw bytes.
func Parse(raw []byte) (*Result, error) {
	malformed := func(err error) error {
		return &MalformedOutputError{Raw: raw, Err: err}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, malformed(errors.New("empty output"))
	}

	var wire wireResult
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, malformed(err)
	}

	switch wire.ValidationStatus {
	case StatusValid, StatusInvalid, StatusPartial:
	default:
		return nil, malformed(fmt.Errorf("unknown validation_status %q", wire.ValidationStatus))
	}

	if wire.Summary == nil {
		return nil, malformed(errors.New("validation_summary is required"))
	}
	if wire.Summary.ValidDocuments < 0 || wire.Summary.InvalidDocuments < 0 {
		return nil, malformed(errors.New("document counts must not be negative"))
	}

	result := &Result{
		ValidationStatus: wire.ValidationStatus,
		Summary: Summary{
			ValidDocuments:   wire.Summary.ValidDocuments,
			InvalidDocuments: wire.Summary.InvalidDocuments,
			MissingDocuments: dedupe(wire.Summary.MissingDocuments),
		},
		Raw: raw,
	}

	if wire.ExtractedInfo != nil {
		info, err := wire.ExtractedInfo.toExtractedInfo()
		if err != nil {
			return nil, malformed(err)
		}
		result.ExtractedInfo = info
	}

	return result, nil
}

func (w *wireExtracted) toExtractedInfo() (ExtractedInfo, error) {
	var info ExtractedInfo

	info.IdentityNumber = nonBlank(w.IdentityNumber)
	info.TaxID = nonBlank(w.TaxID)
	info.AnnualIncome = w.AnnualIncome

	if w.Age != nil {
		age, err := w.Age.Int64()
		if err != nil || age < 0 {
			return info, fmt.Errorf("invalid age %q", w.Age.String())
		}
		n := int(age)
		info.Age = &n
	}

	loans, err := parseLoans(w.ExistingLoans)
	if err != nil {
		return info, err
	}
	info.ExistingLoans = loans

	return info, nil
}

// parseLoans accepts an array of strings or numbers
func parseLoans(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("existing_loans must be an array: %w", err)
	}

	loans := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				loans = append(loans, s)
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			loans = append(loans, n.String())
			continue
		}
		return nil, fmt.Errorf("unsupported existing_loans entry %s", string(item))
	}
	return loans, nil
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
