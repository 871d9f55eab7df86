package documents

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const documentColumns = `id, application_id, document_type, file_name, content_type, size_bytes,
	storage_url, storage_id, verified, verified_at, uploaded_at`

type Repository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	ListByApplicationID(ctx context.Context, applicationID uuid.UUID) ([]Document, error)
	MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO loan_documents (
			id, application_id, document_type, file_name, content_type, size_bytes,
			storage_url, storage_id, verified, verified_at, uploaded_at
		) VALUES (
			:id, :application_id, :document_type, :file_name, :content_type, :size_bytes,
			:storage_url, :storage_id, :verified, :verified_at, :uploaded_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, doc)
	return err
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := r.db.GetContext(ctx, &doc, "SELECT "+documentColumns+" FROM loan_documents WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *postgresRepository) ListByApplicationID(ctx context.Context, applicationID uuid.UUID) ([]Document, error) {
	docs := []Document{}
	err := r.db.SelectContext(ctx, &docs,
		"SELECT "+documentColumns+" FROM loan_documents WHERE application_id = $1 ORDER BY uploaded_at, id",
		applicationID)
	return docs, err
}

// MarkVerified flips verified on the given documents. Documents that are
// already verified keep their original verified_at.
func (r *postgresRepository) MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	res, err := r.db.ExecContext(ctx,
		"UPDATE loan_documents SET verified = TRUE, verified_at = $2 WHERE id = ANY($1::uuid[]) AND verified = FALSE",
		pq.Array(keys), at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM loan_documents WHERE id = $1", id)
	return err
}
