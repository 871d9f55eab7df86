package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Accepted content types for uploaded documents
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrUnknownObject          = errors.New("unknown storage id")
	ErrEmptyObject            = errors.New("empty object")
)

// StorageError wraps every failure returned by an ObjectStore.
type StorageError struct {
	Op        string
	StorageID string
	Err       error
}

func (e *StorageError) Error() string {
	if e.StorageID != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.StorageID, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Object is a stored blob reference
type Object struct {
	URL         string `json:"url"`
	StorageID   string `json:"storage_id"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ObjectStore uploads and deletes document blobs. Implementations hold no
// application state.
type ObjectStore interface {
	Upload(ctx context.Context, blob []byte, contentType string) (*Object, error)
	Delete(ctx context.Context, storageID string) error
}

var extensions = map[string]string{
	ContentTypePDF:  ".pdf",
	ContentTypeJPEG: ".jpg",
	ContentTypePNG:  ".png",
}

// NormalizeContentType maps a declared content type (full MIME type or short
// name) to one of the accepted MIME types.
func NormalizeContentType(contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case ContentTypePDF, "pdf":
		return ContentTypePDF, nil
	case ContentTypeJPEG, "jpeg", "jpg", "image/jpg":
		return ContentTypeJPEG, nil
	case ContentTypePNG, "png":
		return ContentTypePNG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
}

// GenerateStorageID builds a unique object key below prefix
func GenerateStorageID(prefix, contentType string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("2006/01/02"), uuid.NewString()+extensions[contentType])
}

// ValidateStorageID reports whether id has the shape of a key issued under prefix.
func ValidateStorageID(prefix, id string) error {
	p := strings.Trim(prefix, "/")
	if p != "" {
		if !strings.HasPrefix(id, p+"/") {
			return ErrUnknownObject
		}
	}
	base := path.Base(id)
	ext := path.Ext(base)
	known := false
	for _, e := range extensions {
		if e == ext {
			known = true
			break
		}
	}
	if !known {
		return ErrUnknownObject
	}
	if _, err := uuid.Parse(strings.TrimSuffix(base, ext)); err != nil {
		return ErrUnknownObject
	}
	return nil
}
