package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
	"loanwise/loan-portal/loan-portal-backend/pkg/storage"
)

type Service interface {
	// ValidateUploads checks every payload without touching storage. The
	// returned uploads carry the sniffed content type.
	ValidateUploads(uploads []Upload) ([]Upload, error)
	// Store uploads the blob and persists its metadata. A failed insert
	// removes the blob again.
	Store(ctx context.Context, applicationID uuid.UUID, upload Upload) (*Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]Document, error)
	// DeleteDocument removes the blob before the metadata record.
	DeleteDocument(ctx context.Context, doc *Document) error
	MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type documentService struct {
	repo   Repository
	store  storage.ObjectStore
	policy ContentPolicy
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, store storage.ObjectStore, policy ContentPolicy, logger *zap.Logger) Service {
	return &documentService{
		repo:   repo,
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

func (s *documentService) ValidateUploads(uploads []Upload) ([]Upload, error) {
	verr := &apperrors.ValidationInputError{}
	if len(uploads) == 0 {
		verr.Add("documents", "at least one document is required")
		return nil, verr
	}

	checked := make([]Upload, len(uploads))
	for i, u := range uploads {
		field := fmt.Sprintf("documents[%d]", i)
		checked[i] = u

		docType, ok := ParseDocumentType(string(u.DocumentType))
		if !ok {
			verr.Add(field+".document_type", fmt.Sprintf("unknown document type %q", u.DocumentType))
		}
		checked[i].DocumentType = docType

		if len(u.Content) == 0 {
			verr.Add(field+".content", "file is empty")
			continue
		}
		if int64(len(u.Content)) > s.policy.maxBytes() {
			verr.Add(field+".content", fmt.Sprintf("file exceeds %d bytes", s.policy.maxBytes()))
			continue
		}

		contentType, err := s.policy.DetectContentType(u.Content, u.ContentType)
		if err != nil {
			verr.Add(field+".content_type", err.Error())
			continue
		}
		checked[i].ContentType = contentType
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return checked, nil
}

func (s *documentService) Store(ctx context.Context, applicationID uuid.UUID, upload Upload) (*Document, error) {
	obj, err := s.store.Upload(ctx, upload.Content, upload.ContentType)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		DocumentType:  upload.DocumentType,
		FileName:      upload.FileName,
		ContentType:   obj.ContentType,
		Size:          int64(len(upload.Content)),
		StorageURL:    obj.URL,
		StorageID:     obj.StorageID,
		UploadedAt:    s.now().UTC(),
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		if delErr := s.store.Delete(ctx, obj.StorageID); delErr != nil {
			s.logger.Warn("Failed to remove blob after metadata insert failed",
				zap.String("storage_id", obj.StorageID),
				zap.Error(delErr))
		}
		return nil, apperrors.NewPersistenceError("create document", err)
	}

	s.logger.Info("Document stored",
		zap.String("application_id", applicationID.String()),
		zap.String("document_id", doc.ID.String()),
		zap.String("document_type", string(doc.DocumentType)),
		zap.Int64("size", doc.Size))

	return doc, nil
}

func (s *documentService) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewPersistenceError("get document", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return doc, nil
}

func (s *documentService) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]Document, error) {
	docs, err := s.repo.ListByApplicationID(ctx, applicationID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list documents", err)
	}
	return docs, nil
}

func (s *documentService) DeleteDocument(ctx context.Context, doc *Document) error {
	if err := s.store.Delete(ctx, doc.StorageID); err != nil {
		return fmt.Errorf("failed to delete blob for document %s: %w", doc.ID, err)
	}
	if err := s.repo.Delete(ctx, doc.ID); err != nil {
		return apperrors.NewPersistenceError("delete document", err)
	}

	s.logger.Info("Document deleted",
		zap.String("application_id", doc.ApplicationID.String()),
		zap.String("document_id", doc.ID.String()))
	return nil
}

func (s *documentService) MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	n, err := s.repo.MarkVerified(ctx, ids, at)
	if err != nil {
		return apperrors.NewPersistenceError("mark documents verified", err)
	}
	s.logger.Debug("Documents marked verified", zap.Int("requested", len(ids)), zap.Int64("updated", n))
	return nil
}
