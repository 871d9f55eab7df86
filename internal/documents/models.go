package documents

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	TypeIdentity      DocumentType = "IDENTITY"
	TypeAddress       DocumentType = "ADDRESS"
	TypeIncome        DocumentType = "INCOME"
	TypeTaxReturn     DocumentType = "TAX_RETURN"
	TypeBankStatement DocumentType = "BANK_STATEMENT"
)

// ParseDocumentType accepts any casing of a known type name
func ParseDocumentType(s string) (DocumentType, bool) {
	t := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeIdentity, TypeAddress, TypeIncome, TypeTaxReturn, TypeBankStatement:
		return t, true
	}
	return "", false
}

// Document is one supporting file owned by a loan application. StorageURL
// and StorageID are fixed at upload.
type Document struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	ApplicationID uuid.UUID    `json:"application_id" db:"application_id"`
	DocumentType  DocumentType `json:"document_type" db:"document_type"`
	FileName      string       `json:"file_name" db:"file_name"`
	ContentType   string       `json:"content_type" db:"content_type"`
	Size          int64        `json:"size" db:"size_bytes"`
	StorageURL    string       `json:"storage_url" db:"storage_url"`
	StorageID     string       `json:"storage_id" db:"storage_id"`
	Verified      bool         `json:"verified" db:"verified"`
	VerifiedAt    *time.Time   `json:"verified_at,omitempty" db:"verified_at"`
	UploadedAt    time.Time    `json:"uploaded_at" db:"uploaded_at"`
}

// Upload is a document payload received with a submission
type Upload struct {
	DocumentType DocumentType
	FileName     string
	ContentType  string
	Content      []byte
}
