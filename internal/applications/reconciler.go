package applications

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"loanwise/loan-portal/loan-portal-backend/internal/documents"
	"loanwise/loan-portal/loan-portal-backend/internal/validation"
	"loanwise/loan-portal/loan-portal-backend/internal/verifier"
	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
)

// Error kinds recorded for failures outside the verifier
const (
	KindStorage     = "STORAGE"
	KindPersistence = "PERSISTENCE"
	KindStalled     = "STALLED"
)

// Pipeline phases recorded in error logs
const (
	phaseUpload       = "upload"
	phaseDocuments    = "documents"
	phaseVerification = "verification"
	phaseSweep        = "sweep"
)

// Patch carries extracted fields. A nil field was not determined.
type Patch struct {
	IdentityNumber       *string
	TaxID                *string
	Age                  *int
	VerifiedAnnualIncome *decimal.Decimal
	ExistingLoans        []string
}

func (p Patch) IsEmpty() bool {
	return p.IdentityNumber == nil && p.TaxID == nil && p.Age == nil &&
		p.VerifiedAnnualIncome == nil && p.ExistingLoans == nil
}

// Outcome is everything a commit needs to settle one pipeline run
type Outcome struct {
	Log                 *validation.ValidationLog
	Patch               Patch
	Target              Status
	DocumentsValidated  bool
	Summary             string
	VerifiedDocumentIDs []uuid.UUID
	At                  time.Time
}

// UploadFailure identifies the document that could not be stored
type UploadFailure struct {
	Index        int
	DocumentType documents.DocumentType
	Err          error
}

type errorEnvelope struct {
	Phase         string `json:"phase"`
	ErrorKind     string `json:"error_kind"`
	Error         string `json:"error"`
	Stderr        string `json:"stderr,omitempty"`
	RawOutput     string `json:"raw_output,omitempty"`
	DocumentIndex *int   `json:"document_index,omitempty"`
	DocumentType  string `json:"document_type,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (e errorEnvelope) marshal() datatypes.JSON {
	raw, err := json.Marshal(e)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

// Reconcile turns a verifier result, or the error that replaced it, into an
// Outcome for app. It performs no I/O.
func Reconcile(app Application, docs []documents.Document, result *verifier.Result, invokeErr error, at time.Time) Outcome {
	if invokeErr != nil || result == nil {
		if invokeErr == nil {
			invokeErr = errors.New("verifier returned no result")
		}
		return reconcileInvokeError(app, invokeErr, at)
	}

	summary := result.Summary
	log := &validation.ValidationLog{
		ID:               validation.NewLogID(),
		ApplicationID:    app.ID,
		ValidationStatus: validation.Status(result.ValidationStatus),
		ValidDocuments:   summary.ValidDocuments,
		InvalidDocuments: summary.InvalidDocuments,
		MissingDocuments: datatypes.JSONSlice[string](append([]string{}, summary.MissingDocuments...)),
		RawResult:        rawResult(result.Raw),
		CreatedAt:        at,
	}

	outcome := Outcome{
		Log:                log,
		Patch:              patchFrom(result.ExtractedInfo),
		DocumentsValidated: true,
		Summary:            describeResult(result),
		At:                 at,
	}

	switch {
	case result.ValidationStatus == verifier.StatusInvalid:
		outcome.Target = StatusRejected
	case result.ValidationStatus == verifier.StatusValid && len(summary.MissingDocuments) == 0:
		outcome.Target = StatusVerified
		for _, d := range docs {
			if !d.Verified {
				outcome.VerifiedDocumentIDs = append(outcome.VerifiedDocumentIDs, d.ID)
			}
		}
	default:
		outcome.Target = StatusNeedsReview
	}
	return outcome
}

func reconcileInvokeError(app Application, err error, at time.Time) Outcome {
	kind := verifier.Kind(err)
	stdout, stderr := verifier.Output(err)
	env := errorEnvelope{
		Phase:     phaseVerification,
		ErrorKind: kind,
		Error:     err.Error(),
		Stderr:    string(stderr),
		RawOutput: string(stdout),
	}
	return errorOutcome(app, kind, err.Error(), env, at)
}

// ReconcileUploadFailure records a failed document upload. Documents stored
// before the failure stay attached to the application.
func ReconcileUploadFailure(app Application, failure UploadFailure, at time.Time) Outcome {
	kind := uploadErrorKind(failure.Err)
	index := failure.Index
	env := errorEnvelope{
		Phase:         phaseUpload,
		ErrorKind:     kind,
		Error:         failure.Err.Error(),
		DocumentIndex: &index,
		DocumentType:  string(failure.DocumentType),
	}
	return errorOutcome(app, kind, failure.Err.Error(), env, at)
}

// ReconcileDocumentsUnavailable records a failure to read back the stored
// documents before verification
func ReconcileDocumentsUnavailable(app Application, err error, at time.Time) Outcome {
	env := errorEnvelope{
		Phase:     phaseDocuments,
		ErrorKind: KindPersistence,
		Error:     err.Error(),
	}
	return errorOutcome(app, KindPersistence, err.Error(), env, at)
}

// ReconcileStalled records an application that was left mid-pipeline
func ReconcileStalled(app Application, at time.Time) Outcome {
	msg := fmt.Sprintf("verification did not complete; application was left in %s since %s",
		app.Status, app.UpdatedAt.UTC().Format(time.RFC3339))
	env := errorEnvelope{
		Phase:     phaseSweep,
		ErrorKind: KindStalled,
		Error:     msg,
		Status:    string(app.Status),
	}
	return errorOutcome(app, KindStalled, msg, env, at)
}

// errorOutcome settles app in NEEDS_REVIEW. The ERROR log becomes the latest
// one, so documentsValidated drops to false with it.
func errorOutcome(app Application, kind, message string, env errorEnvelope, at time.Time) Outcome {
	return Outcome{
		Log: &validation.ValidationLog{
			ID:               validation.NewLogID(),
			ApplicationID:    app.ID,
			ValidationStatus: validation.StatusError,
			MissingDocuments: datatypes.JSONSlice[string]{},
			RawResult:        env.marshal(),
			ErrorKind:        kind,
			ErrorMessage:     message,
			CreatedAt:        at,
		},
		Target:             StatusNeedsReview,
		DocumentsValidated: false,
		Summary:            "ERROR: " + kind,
		At:                 at,
	}
}

func uploadErrorKind(err error) string {
	var pe *apperrors.PersistenceError
	if errors.As(err, &pe) {
		return KindPersistence
	}
	return KindStorage
}

func patchFrom(info verifier.ExtractedInfo) Patch {
	p := Patch{
		IdentityNumber: info.IdentityNumber,
		TaxID:          info.TaxID,
		Age:            info.Age,
	}
	if info.AnnualIncome != nil {
		v := *info.AnnualIncome
		p.VerifiedAnnualIncome = &v
	}
	if info.ExistingLoans != nil {
		p.ExistingLoans = append([]string{}, info.ExistingLoans...)
	}
	return p
}

// rawResult keeps the verifier output verbatim when it is JSON and wraps it
// otherwise
func rawResult(raw []byte) datatypes.JSON {
	if len(raw) > 0 && json.Valid(raw) {
		return datatypes.JSON(append([]byte(nil), raw...))
	}
	wrapped, err := json.Marshal(map[string]string{"raw_output": string(raw)})
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(wrapped)
}

func describeResult(result *verifier.Result) string {
	s := result.Summary
	desc := fmt.Sprintf("%s: %d valid, %d invalid", result.ValidationStatus, s.ValidDocuments, s.InvalidDocuments)
	if len(s.MissingDocuments) > 0 {
		desc += ", missing " + strings.Join(s.MissingDocuments, ", ")
	}
	return desc
}
