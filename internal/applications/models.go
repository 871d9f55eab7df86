package applications

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
	"loanwise/loan-portal/loan-portal-backend/pkg/workflows"
)

type Status string

const (
	StatusNew              Status = "NEW"
	StatusSubmitted        Status = "SUBMITTED"
	StatusDocumentsPending Status = "DOCUMENTS_PENDING"
	StatusUnderReview      Status = "UNDER_REVIEW"
	StatusVerified         Status = "VERIFIED"
	StatusNeedsReview      Status = "NEEDS_REVIEW"
	StatusApproved         Status = "APPROVED"
	StatusRejected         Status = "REJECTED"
)

const maxTermMonths = 480

// Application is a loan application and the fields its verification filled in.
// IdentityNumber through ExistingLoans are only ever set by reconciliation.
type Application struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	ApplicantName    string          `json:"applicant_name" db:"applicant_name"`
	Email            string          `json:"email" db:"email"`
	Phone            string          `json:"phone,omitempty" db:"phone"`
	AddressLine1     string          `json:"address_line1,omitempty" db:"address_line1"`
	AddressLine2     string          `json:"address_line2,omitempty" db:"address_line2"`
	City             string          `json:"city,omitempty" db:"city"`
	State            string          `json:"state,omitempty" db:"state"`
	PostalCode       string          `json:"postal_code,omitempty" db:"postal_code"`
	Country          string          `json:"country,omitempty" db:"country"`
	RequestedAmount  decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	TermMonths       int             `json:"term_months" db:"term_months"`
	Purpose          string          `json:"purpose,omitempty" db:"purpose"`
	AnnualIncome     decimal.Decimal `json:"annual_income" db:"annual_income"`
	EmploymentStatus string          `json:"employment_status,omitempty" db:"employment_status"`

	IdentityNumber       *string             `json:"identity_number,omitempty" db:"identity_number"`
	TaxID                *string             `json:"tax_id,omitempty" db:"tax_id"`
	Age                  *int                `json:"age,omitempty" db:"age"`
	VerifiedAnnualIncome decimal.NullDecimal `json:"verified_annual_income" db:"verified_annual_income"`
	ExistingLoans        pq.StringArray      `json:"existing_loans" db:"existing_loans"`

	Status                   Status    `json:"status" db:"status"`
	DocumentsValidated       bool      `json:"documents_validated" db:"documents_validated"`
	DocumentValidationStatus string    `json:"document_validation_status,omitempty" db:"document_validation_status"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time `json:"updated_at" db:"updated_at"`
}

// ApplicantFields is the applicant-supplied part of a submission
type ApplicantFields struct {
	ApplicantName    string
	Email            string
	Phone            string
	AddressLine1     string
	AddressLine2     string
	City             string
	State            string
	PostalCode       string
	Country          string
	RequestedAmount  decimal.Decimal
	TermMonths       int
	Purpose          string
	AnnualIncome     decimal.Decimal
	EmploymentStatus string
}

// Validate reports every invalid field at once
func (f ApplicantFields) Validate() error {
	verr := &apperrors.ValidationInputError{}
	if strings.TrimSpace(f.ApplicantName) == "" {
		verr.Add("applicant_name", "is required")
	}
	if strings.TrimSpace(f.Email) == "" {
		verr.Add("email", "is required")
	} else if _, err := mail.ParseAddress(f.Email); err != nil {
		verr.Add("email", "is not a valid address")
	}
	if !f.RequestedAmount.IsPositive() {
		verr.Add("requested_amount", "must be greater than zero")
	}
	if f.TermMonths < 1 || f.TermMonths > maxTermMonths {
		verr.Add("term_months", fmt.Sprintf("must be between 1 and %d", maxTermMonths))
	}
	if f.AnnualIncome.IsNegative() {
		verr.Add("annual_income", "must not be negative")
	}
	return verr.OrNil()
}

// newApplication builds a NEW application from validated fields
func newApplication(f ApplicantFields, now time.Time) Application {
	return Application{
		ID:               uuid.New(),
		ApplicantName:    strings.TrimSpace(f.ApplicantName),
		Email:            strings.TrimSpace(f.Email),
		Phone:            f.Phone,
		AddressLine1:     f.AddressLine1,
		AddressLine2:     f.AddressLine2,
		City:             f.City,
		State:            f.State,
		PostalCode:       f.PostalCode,
		Country:          f.Country,
		RequestedAmount:  f.RequestedAmount,
		TermMonths:       f.TermMonths,
		Purpose:          f.Purpose,
		AnnualIncome:     f.AnnualIncome,
		EmploymentStatus: f.EmploymentStatus,
		ExistingLoans:    pq.StringArray{},
		Status:           StatusNew,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SubmitResult is returned once a pipeline run has settled
type SubmitResult struct {
	ApplicationID uuid.UUID `json:"application_id"`
	Status        Status    `json:"status"`
}

// StatusView is the lightweight status read model
type StatusView struct {
	ApplicationID            uuid.UUID `json:"application_id"`
	Status                   Status    `json:"status"`
	DocumentsValidated       bool      `json:"documents_validated"`
	DocumentValidationStatus string    `json:"document_validation_status,omitempty"`
	UpdatedAt                time.Time `json:"updated_at"`
	AllowedTransitions       []string  `json:"allowed_transitions"`
	Final                    bool      `json:"final"`
}

// statusMachine holds the allowed status changes. APPROVED is terminal.
var statusMachine = workflows.NewStateMachine(map[string][]string{
	string(StatusNew):              {string(StatusSubmitted)},
	string(StatusSubmitted):        {string(StatusDocumentsPending), string(StatusNeedsReview)},
	string(StatusDocumentsPending): {string(StatusUnderReview), string(StatusNeedsReview)},
	string(StatusUnderReview):      {string(StatusVerified), string(StatusNeedsReview), string(StatusRejected)},
	string(StatusVerified):         {string(StatusApproved), string(StatusRejected), string(StatusSubmitted)},
	string(StatusNeedsReview):      {string(StatusApproved), string(StatusRejected), string(StatusSubmitted)},
	string(StatusRejected):         {string(StatusSubmitted)},
})

// inFlightStatuses are the statuses a pipeline passes through before settling
var inFlightStatuses = []Status{StatusSubmitted, StatusDocumentsPending, StatusUnderReview}
