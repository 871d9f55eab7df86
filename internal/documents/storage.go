package documents

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"loanwise/loan-portal/loan-portal-backend/pkg/storage"
)

const DefaultMaxFileBytes int64 = 10 << 20

// ContentPolicy decides which uploads are accepted
type ContentPolicy struct {
	MaxFileBytes int64 `json:"max_file_bytes"`
}

// DetectContentType sniffs the payload and checks it against the declared
// type, if any. The sniffed type wins; a mismatch is rejected.
func (p ContentPolicy) DetectContentType(content []byte, declared string) (string, error) {
	sniffed, err := storage.NormalizeContentType(mimetype.Detect(content).String())
	if err != nil {
		return "", fmt.Errorf("file content is not a PDF, JPEG or PNG")
	}
	if declared == "" || declared == "application/octet-stream" {
		return sniffed, nil
	}

	normalized, err := storage.NormalizeContentType(declared)
	if err != nil {
		return "", fmt.Errorf("content type %q is not accepted", declared)
	}
	if normalized != sniffed {
		return "", fmt.Errorf("declared content type %s does not match file content %s", normalized, sniffed)
	}
	return sniffed, nil
}

func (p ContentPolicy) maxBytes() int64 {
	if p.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return p.MaxFileBytes
}
