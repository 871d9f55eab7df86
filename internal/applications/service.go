package applications

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loanwise/loan-portal/loan-portal-backend/internal/documents"
	"loanwise/loan-portal/loan-portal-backend/internal/metrics"
	"loanwise/loan-portal/loan-portal-backend/internal/notifications"
	"loanwise/loan-portal/loan-portal-backend/internal/validation"
	"loanwise/loan-portal/loan-portal-backend/internal/verifier"
	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

var errTaskAborted = errors.New("pipeline task did not complete")

// Scheduler runs keyed tasks, one at a time per key
type Scheduler interface {
	Submit(key string, task workerpool.Task) (<-chan struct{}, error)
	Busy(key string) bool
}

// ReviewerAuthenticator resolves a reviewer credential to the reviewer's identity
type ReviewerAuthenticator interface {
	Authenticate(token string) (string, error)
}

// Dependencies wires the collaborators of Service. Notifier and Metrics are
// optional; without Reviewers every decision is forbidden.
type Dependencies struct {
	Repository Repository
	Documents  documents.Service
	Logs       validation.Repository
	Invoker    verifier.Invoker
	Pool       Scheduler
	Notifier   notifications.Notifier
	Metrics    *metrics.Collector
	Reviewers  ReviewerAuthenticator
	Logger     *zap.Logger
}

// Decision is a reviewer's final call on an application
type Decision struct {
	Status   Status `json:"decision"`
	Reviewer string `json:"reviewer"`
	Note     string `json:"note,omitempty"`
}

// Service orchestrates intake, verification and review of loan applications
type Service struct {
	repo      Repository
	documents documents.Service
	logs      validation.Repository
	invoker   verifier.Invoker
	pool      Scheduler
	notifier  notifications.Notifier
	metrics   *metrics.Collector
	reviewers ReviewerAuthenticator
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new application service
func NewService(deps Dependencies) *Service {
	return &Service{
		repo:      deps.Repository,
		documents: deps.Documents,
		logs:      deps.Logs,
		invoker:   deps.Invoker,
		pool:      deps.Pool,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		reviewers: deps.Reviewers,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Submit validates the application and its documents, then runs the whole
// verification pipeline. It returns once the application has settled in a
// review or terminal status.
func (s *Service) Submit(ctx context.Context, fields ApplicantFields, uploads []documents.Upload) (*SubmitResult, error) {
	checked, err := s.validateSubmission(fields, uploads)
	if err != nil {
		s.metrics.RecordSubmission(string(apperrors.ErrorTypeValidation))
		return nil, err
	}

	app := newApplication(fields, s.now().UTC())
	var result *SubmitResult
	err = s.runExclusive(app.ID, func(ctx context.Context) error {
		submitted, err := app.Transition(StatusSubmitted, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.repo.Create(ctx, &submitted); err != nil {
			return apperrors.NewPersistenceError("create application", err)
		}
		s.metrics.RecordTransition(string(app.Status), string(submitted.Status))
		s.logger.Info("Application submitted",
			zap.String("application_id", submitted.ID.String()),
			zap.Int("documents", len(checked)))

		final, err := s.runVerification(ctx, submitted, checked)
		if err != nil {
			return err
		}
		result = &SubmitResult{ApplicationID: final.ID, Status: final.Status}
		return nil
	})
	if err != nil {
		s.metrics.RecordSubmission(string(apperrors.Classify(err, workerpool.ErrCapacityExceeded)))
		return nil, err
	}

	s.metrics.RecordSubmission(string(result.Status))
	return result, nil
}

func (s *Service) validateSubmission(fields ApplicantFields, uploads []documents.Upload) ([]documents.Upload, error) {
	verr := &apperrors.ValidationInputError{}
	var fe *apperrors.ValidationInputError
	if err := fields.Validate(); errors.As(err, &fe) {
		verr.Fields = append(verr.Fields, fe.Fields...)
	}

	checked, err := s.documents.ValidateUploads(uploads)
	if err != nil {
		var de *apperrors.ValidationInputError
		if !errors.As(err, &de) {
			return nil, err
		}
		verr.Fields = append(verr.Fields, de.Fields...)
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return checked, nil
}

// Resubmit runs the pipeline again over the stored documents plus any new
// uploads. Only VERIFIED, NEEDS_REVIEW and REJECTED applications qualify.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID, uploads []documents.Upload) (*SubmitResult, error) {
	var checked []documents.Upload
	if len(uploads) > 0 {
		var err error
		if checked, err = s.documents.ValidateUploads(uploads); err != nil {
			return nil, err
		}
	}

	var result *SubmitResult
	err := s.runExclusive(id, func(ctx context.Context) error {
		app, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if app.Status == StatusNew || !statusMachine.CanTransition(string(app.Status), string(StatusSubmitted)) {
			return fmt.Errorf("application %s in %s cannot be resubmitted: %w", id, app.Status, apperrors.ErrInvalidTransition)
		}

		existing, err := s.documents.ListByApplication(ctx, id)
		if err != nil {
			return err
		}
		if len(existing)+len(checked) == 0 {
			verr := &apperrors.ValidationInputError{}
			verr.Add("documents", "at least one document is required")
			return verr
		}

		submitted, err := s.advance(ctx, *app, StatusSubmitted)
		if err != nil {
			return err
		}
		s.logger.Info("Application resubmitted",
			zap.String("application_id", id.String()),
			zap.Int("existing_documents", len(existing)),
			zap.Int("new_documents", len(checked)))

		final, err := s.runVerification(ctx, submitted, checked)
		if err != nil {
			return err
		}
		result = &SubmitResult{ApplicationID: final.ID, Status: final.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runVerification takes a SUBMITTED application through upload, invocation
// and reconciliation. Failures end in NEEDS_REVIEW with the cause in the
// validation log; an error is returned only when a status change itself
// cannot be saved.
func (s *Service) runVerification(ctx context.Context, app Application, uploads []documents.Upload) (Application, error) {
	app, err := s.advance(ctx, app, StatusDocumentsPending)
	if err != nil {
		return app, err
	}

	for i, u := range uploads {
		_, err := s.documents.Store(ctx, app.ID, u)
		s.metrics.RecordUpload(err)
		if err != nil {
			s.logger.Error("Document upload failed",
				zap.String("application_id", app.ID.String()),
				zap.Int("document_index", i),
				zap.String("document_type", string(u.DocumentType)),
				zap.Error(err))
			outcome := ReconcileUploadFailure(app, UploadFailure{Index: i, DocumentType: u.DocumentType, Err: err}, s.now().UTC())
			return s.commit(ctx, app, outcome)
		}
	}

	docs, err := s.documents.ListByApplication(ctx, app.ID)
	if err != nil {
		s.logger.Error("Failed to read back stored documents",
			zap.String("application_id", app.ID.String()),
			zap.Error(err))
		return s.commit(ctx, app, ReconcileDocumentsUnavailable(app, err, s.now().UTC()))
	}

	app, err = s.advance(ctx, app, StatusUnderReview)
	if err != nil {
		return app, err
	}

	started := time.Now()
	result, invokeErr := s.invoker.Invoke(ctx, verificationRequest(app, docs))
	s.metrics.RecordInvocation(invocationLabel(invokeErr), time.Since(started))
	if invokeErr != nil {
		s.logger.Warn("Verification failed",
			zap.String("application_id", app.ID.String()),
			zap.String("error_kind", verifier.Kind(invokeErr)),
			zap.Error(invokeErr))
	}

	return s.commit(ctx, app, Reconcile(app, docs, result, invokeErr, s.now().UTC()))
}

// commit persists an outcome: log first, then the application, then the
// verified flags. Once the application is saved the outcome stands; a failed
// flag update or notification is only logged.
func (s *Service) commit(ctx context.Context, app Application, outcome Outcome) (Application, error) {
	if err := s.logs.Create(ctx, outcome.Log); err != nil {
		return app, apperrors.NewPersistenceError("save validation log", err)
	}

	next := app.ApplyPatch(outcome.Patch)
	next.DocumentsValidated = outcome.DocumentsValidated
	next.DocumentValidationStatus = outcome.Summary
	next, err := next.Transition(outcome.Target, outcome.At)
	if err != nil {
		return app, err
	}
	if err := s.repo.Update(ctx, &next); err != nil {
		return app, apperrors.NewPersistenceError("update application", err)
	}
	if len(outcome.VerifiedDocumentIDs) > 0 {
		if err := s.documents.MarkVerified(ctx, outcome.VerifiedDocumentIDs, outcome.At); err != nil {
			s.logger.Warn("Failed to mark documents verified",
				zap.String("application_id", next.ID.String()),
				zap.Int("documents", len(outcome.VerifiedDocumentIDs)),
				zap.Error(err))
		}
	}

	s.metrics.RecordTransition(string(app.Status), string(next.Status))
	s.metrics.RecordOutcome(string(next.Status))
	s.logger.Info("Application reconciled",
		zap.String("application_id", next.ID.String()),
		zap.String("status", string(next.Status)),
		zap.String("validation_status", string(outcome.Log.ValidationStatus)),
		zap.Bool("documents_validated", next.DocumentsValidated))

	s.notify(ctx, app.Status, next)
	return next, nil
}

// advance moves app to status and saves it
func (s *Service) advance(ctx context.Context, app Application, to Status) (Application, error) {
	next, err := app.Transition(to, s.now().UTC())
	if err != nil {
		return app, err
	}
	if err := s.repo.Update(ctx, &next); err != nil {
		return app, apperrors.NewPersistenceError("update application status", err)
	}
	s.metrics.RecordTransition(string(app.Status), string(next.Status))
	return next, nil
}

// Decide records a reviewer's APPROVED or REJECTED decision
func (s *Service) Decide(ctx context.Context, id uuid.UUID, decision Decision, token string) (*Application, error) {
	if s.reviewers == nil {
		return nil, fmt.Errorf("decision on application %s: %w", id, apperrors.ErrForbidden)
	}
	reviewer, err := s.reviewers.Authenticate(token)
	if err != nil {
		return nil, fmt.Errorf("decision on application %s: %w (%v)", id, apperrors.ErrForbidden, err)
	}
	if decision.Reviewer == "" {
		decision.Reviewer = reviewer
	}
	if decision.Status != StatusApproved && decision.Status != StatusRejected {
		verr := &apperrors.ValidationInputError{}
		verr.Add("decision", "must be APPROVED or REJECTED")
		return nil, verr
	}

	var decided Application
	err = s.runExclusive(id, func(ctx context.Context) error {
		app, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if app.Status != StatusVerified && app.Status != StatusNeedsReview {
			return fmt.Errorf("application %s in %s is not awaiting a decision: %w", id, app.Status, apperrors.ErrInvalidTransition)
		}

		next, err := s.advance(ctx, *app, decision.Status)
		if err != nil {
			return err
		}
		s.logger.Info("Application decided",
			zap.String("application_id", id.String()),
			zap.String("decision", string(decision.Status)),
			zap.String("reviewer", decision.Reviewer),
			zap.String("authenticated_as", reviewer))

		s.notify(ctx, app.Status, next)
		decided = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &decided, nil
}

func (s *Service) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	return s.load(ctx, id)
}

func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	app, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ApplicationID:            app.ID,
		Status:                   app.Status,
		DocumentsValidated:       app.DocumentsValidated,
		DocumentValidationStatus: app.DocumentValidationStatus,
		UpdatedAt:                app.UpdatedAt,
		AllowedTransitions:       app.AllowedTransitions(),
		Final:                    app.IsFinal(),
	}, nil
}

// GetValidationLog returns the authoritative, most recent log
func (s *Service) GetValidationLog(ctx context.Context, id uuid.UUID) (*validation.ValidationLog, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	log, err := s.logs.LatestByApplicationID(ctx, id)
	if err != nil {
		return nil, apperrors.NewPersistenceError("get validation log", err)
	}
	if log == nil {
		return nil, fmt.Errorf("validation log for application %s: %w", id, apperrors.ErrNotFound)
	}
	return log, nil
}

func (s *Service) ListValidationLogs(ctx context.Context, id uuid.UUID) ([]validation.ValidationLog, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByApplicationID(ctx, id)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list validation logs", err)
	}
	return logs, nil
}

func (s *Service) ListDocuments(ctx context.Context, id uuid.UUID) ([]documents.Document, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.documents.ListByApplication(ctx, id)
}

// DeleteApplication removes the application and every document it owns.
// Validation logs are kept for audit.
func (s *Service) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	return s.runExclusive(id, func(ctx context.Context) error {
		if _, err := s.load(ctx, id); err != nil {
			return err
		}
		docs, err := s.documents.ListByApplication(ctx, id)
		if err != nil {
			return err
		}
		for i := range docs {
			if err := s.documents.DeleteDocument(ctx, &docs[i]); err != nil {
				return err
			}
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return apperrors.NewPersistenceError("delete application", err)
		}
		s.logger.Info("Application deleted",
			zap.String("application_id", id.String()),
			zap.Int("documents", len(docs)))
		return nil
	})
}

// DeleteDocument removes one document, serialised with its application's pipeline
func (s *Service) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return s.runExclusive(doc.ApplicationID, func(ctx context.Context) error {
		current, err := s.documents.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		return s.documents.DeleteDocument(ctx, current)
	})
}

// ReviewStalled moves applications stuck mid-pipeline since before into
// NEEDS_REVIEW. Applications with work in flight are left alone.
func (s *Service) ReviewStalled(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.repo.ListStale(ctx, inFlightStatuses, before, limit)
	if err != nil {
		return 0, apperrors.NewPersistenceError("list stale applications", err)
	}

	moved := 0
	for _, candidate := range stale {
		id := candidate.ID
		if s.pool.Busy(id.String()) {
			continue
		}
		err := s.runExclusive(id, func(ctx context.Context) error {
			app, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			if !isInFlight(app.Status) || !app.UpdatedAt.Before(before) {
				return nil
			}
			if _, err := s.commit(ctx, *app, ReconcileStalled(*app, s.now().UTC())); err != nil {
				return err
			}
			s.metrics.RecordStalled()
			moved++
			return nil
		})
		if errors.Is(err, workerpool.ErrCapacityExceeded) {
			return moved, err
		}
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Failed to move stalled application to review",
				zap.String("application_id", id.String()),
				zap.Error(err))
		}
	}
	return moved, nil
}

// runExclusive runs fn on the pool under id's key and waits for it. The task
// context is the pool's, so a caller that goes away does not strand an
// application mid-pipeline.
func (s *Service) runExclusive(id uuid.UUID, fn func(ctx context.Context) error) error {
	err := errTaskAborted
	done, submitErr := s.pool.Submit(id.String(), func(ctx context.Context) {
		err = fn(ctx)
	})
	if submitErr != nil {
		return submitErr
	}
	<-done
	return err
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Application, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewPersistenceError("get application", err)
	}
	if app == nil {
		return nil, fmt.Errorf("application %s: %w", id, apperrors.ErrNotFound)
	}
	return app, nil
}

func (s *Service) notify(ctx context.Context, previous Status, app Application) {
	if s.notifier == nil || !isNotifiable(app.Status) {
		return
	}
	err := s.notifier.StatusChanged(ctx, notifications.StatusEvent{
		ApplicationID:            app.ID,
		ApplicantName:            app.ApplicantName,
		Email:                    app.Email,
		PreviousStatus:           string(previous),
		Status:                   string(app.Status),
		DocumentValidationStatus: app.DocumentValidationStatus,
		OccurredAt:               app.UpdatedAt,
	})
	s.metrics.RecordNotification(err)
	if err != nil {
		s.logger.Warn("Status notification failed",
			zap.String("application_id", app.ID.String()),
			zap.String("status", string(app.Status)),
			zap.Error(err))
	}
}

func isNotifiable(status Status) bool {
	switch status {
	case StatusVerified, StatusNeedsReview, StatusRejected, StatusApproved:
		return true
	}
	return false
}

func isInFlight(status Status) bool {
	for _, s := range inFlightStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// verificationRequest carries only public applicant fields; contact details
// stay out of the verifier's argv.
func verificationRequest(app Application, docs []documents.Document) verifier.Request {
	fields := []verifier.Field{
		{Name: "applicant_name", Value: app.ApplicantName},
		{Name: "requested_amount", Value: app.RequestedAmount.String()},
		{Name: "term_months", Value: strconv.Itoa(app.TermMonths)},
		{Name: "annual_income", Value: app.AnnualIncome.String()},
	}
	optional := []verifier.Field{
		{Name: "purpose", Value: app.Purpose},
		{Name: "employment_status", Value: app.EmploymentStatus},
		{Name: "city", Value: app.City},
		{Name: "state", Value: app.State},
		{Name: "country", Value: app.Country},
	}
	for _, f := range optional {
		if strings.TrimSpace(f.Value) != "" {
			fields = append(fields, f)
		}
	}

	refs := make([]verifier.DocumentRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, verifier.DocumentRef{DocumentType: string(d.DocumentType), URL: d.StorageURL})
	}
	return verifier.Request{
		ApplicationID: app.ID.String(),
		Fields:        fields,
		Documents:     refs,
	}
}

func invocationLabel(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(verifier.Kind(err))
}
