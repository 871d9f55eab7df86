package applications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
)

const applicationColumns = `id, applicant_name, email, phone, address_line1, address_line2, city, state,
	postal_code, country, requested_amount, term_months, purpose, annual_income, employment_status,
	identity_number, tax_id, age, verified_annual_income, existing_loans,
	status, documents_validated, document_validation_status, created_at, updated_at`

// Repository defines the interface for application data access
type Repository interface {
	Create(ctx context.Context, app *Application) error
	// GetByID returns nil, nil when the application does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*Application, error)
	Update(ctx context.Context, app *Application) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListStale returns applications in one of statuses last updated before before
	ListStale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]Application, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

// NewRepository creates a PostgreSQL application repository
func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, app *Application) error {
	query := `
		INSERT INTO loan_applications (
			id, applicant_name, email, phone, address_line1, address_line2, city, state,
			postal_code, country, requested_amount, term_months, purpose, annual_income, employment_status,
			identity_number, tax_id, age, verified_annual_income, existing_loans,
			status, documents_validated, document_validation_status, created_at, updated_at
		) VALUES (
			:id, :applicant_name, :email, :phone, :address_line1, :address_line2, :city, :state,
			:postal_code, :country, :requested_amount, :term_months, :purpose, :annual_income, :employment_status,
			:identity_number, :tax_id, :age, :verified_annual_income, :existing_loans,
			:status, :documents_validated, :document_validation_status, :created_at, :updated_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, app)
	return err
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Application, error) {
	var app Application
	err := r.db.GetContext(ctx, &app, "SELECT "+applicationColumns+" FROM loan_applications WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Update writes the mutable columns. Applicant input is fixed at creation.
func (r *postgresRepository) Update(ctx context.Context, app *Application) error {
	query := `
		UPDATE loan_applications SET
			identity_number = :identity_number,
			tax_id = :tax_id,
			age = :age,
			verified_annual_income = :verified_annual_income,
			existing_loans = :existing_loans,
			status = :status,
			documents_validated = :documents_validated,
			document_validation_status = :document_validation_status,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, app)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("application %s: %w", app.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM loan_applications WHERE id = $1", id)
	return err
}

func (r *postgresRepository) ListStale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]Application, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	apps := []Application{}
	err := r.db.SelectContext(ctx, &apps,
		"SELECT "+applicationColumns+` FROM loan_applications
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`,
		pq.Array(names), before, limit)
	return apps, err
}
