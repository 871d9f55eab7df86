package applications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"loanwise/loan-portal/loan-portal-backend/internal/auth"
	"loanwise/loan-portal/loan-portal-backend/internal/documents"
	"loanwise/loan-portal/loan-portal-backend/internal/validation"
	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

// ReviewerTokenHeader carries the credential for manual decisions
const ReviewerTokenHeader = auth.TokenHeader

// ApplicationService is the surface the HTTP handler depends on
type ApplicationService interface {
	Submit(ctx context.Context, fields ApplicantFields, uploads []documents.Upload) (*SubmitResult, error)
	Resubmit(ctx context.Context, id uuid.UUID, uploads []documents.Upload) (*SubmitResult, error)
	Decide(ctx context.Context, id uuid.UUID, decision Decision, token string) (*Application, error)
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error)
	GetValidationLog(ctx context.Context, id uuid.UUID) (*validation.ValidationLog, error)
	ListValidationLogs(ctx context.Context, id uuid.UUID) ([]validation.ValidationLog, error)
	ListDocuments(ctx context.Context, id uuid.UUID) ([]documents.Document, error)
	DeleteApplication(ctx context.Context, id uuid.UUID) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

// Handler handles HTTP requests for loan applications
type Handler struct {
	service      ApplicationService
	maxFileBytes int64
	logger       *zap.Logger
}

// NewHandler creates a new applications handler
func NewHandler(service ApplicationService, maxFileBytes int64, logger *zap.Logger) *Handler {
	if maxFileBytes <= 0 {
		maxFileBytes = documents.DefaultMaxFileBytes
	}
	return &Handler{
		service:      service,
		maxFileBytes: maxFileBytes,
		logger:       logger,
	}
}

// RegisterRoutes registers application routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	apps := router.Group("/applications")
	{
		apps.POST("", h.submit)
		apps.GET("/:id", h.getApplication)
		apps.GET("/:id/status", h.getStatus)
		apps.GET("/:id/validation-log", h.getValidationLog)
		apps.GET("/:id/validation-logs", h.listValidationLogs)
		apps.GET("/:id/documents", h.listDocuments)
		apps.POST("/:id/resubmit", h.resubmit)
		apps.POST("/:id/decision", h.decide)
		apps.DELETE("/:id", h.deleteApplication)
		apps.DELETE("/documents/:documentId", h.deleteDocument)
	}
}

// applicationForm is the multipart form of a submission
type applicationForm struct {
	ApplicantName    string `form:"applicant_name"`
	Email            string `form:"email"`
	Phone            string `form:"phone"`
	AddressLine1     string `form:"address_line1"`
	AddressLine2     string `form:"address_line2"`
	City             string `form:"city"`
	State            string `form:"state"`
	PostalCode       string `form:"postal_code"`
	Country          string `form:"country"`
	RequestedAmount  string `form:"requested_amount"`
	TermMonths       string `form:"term_months"`
	Purpose          string `form:"purpose"`
	AnnualIncome     string `form:"annual_income"`
	EmploymentStatus string `form:"employment_status"`
}

func (f applicationForm) toFields() (ApplicantFields, error) {
	verr := &apperrors.ValidationInputError{}
	fields := ApplicantFields{
		ApplicantName:    f.ApplicantName,
		Email:            f.Email,
		Phone:            f.Phone,
		AddressLine1:     f.AddressLine1,
		AddressLine2:     f.AddressLine2,
		City:             f.City,
		State:            f.State,
		PostalCode:       f.PostalCode,
		Country:          f.Country,
		Purpose:          f.Purpose,
		EmploymentStatus: f.EmploymentStatus,
	}

	if amount, err := decimal.NewFromString(strings.TrimSpace(f.RequestedAmount)); err != nil {
		verr.Add("requested_amount", "must be a decimal number")
	} else {
		fields.RequestedAmount = amount
	}
	if term, err := strconv.Atoi(strings.TrimSpace(f.TermMonths)); err != nil {
		verr.Add("term_months", "must be a whole number")
	} else {
		fields.TermMonths = term
	}
	if strings.TrimSpace(f.AnnualIncome) != "" {
		if income, err := decimal.NewFromString(strings.TrimSpace(f.AnnualIncome)); err != nil {
			verr.Add("annual_income", "must be a decimal number")
		} else {
			fields.AnnualIncome = income
		}
	}
	return fields, verr.OrNil()
}

// submit handles POST /api/v1/applications
func (h *Handler) submit(c *gin.Context) {
	var form applicationForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields, err := form.toFields()
	if err != nil {
		h.writeError(c, "submit application", err)
		return
	}
	uploads, err := h.readUploads(c)
	if err != nil {
		h.writeError(c, "submit application", err)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), fields, uploads)
	if err != nil {
		h.writeError(c, "submit application", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// resubmit handles POST /api/v1/applications/:id/resubmit
func (h *Handler) resubmit(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	var uploads []documents.Upload
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		var err error
		if uploads, err = h.readUploads(c); err != nil {
			h.writeError(c, "resubmit application", err)
			return
		}
	}

	result, err := h.service.Resubmit(c.Request.Context(), id, uploads)
	if err != nil {
		h.writeError(c, "resubmit application", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// decide handles POST /api/v1/applications/:id/decision
func (h *Handler) decide(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	var decision Decision
	if err := c.ShouldBindJSON(&decision); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision.Status = Status(strings.ToUpper(strings.TrimSpace(string(decision.Status))))

	app, err := h.service.Decide(c.Request.Context(), id, decision, c.GetHeader(ReviewerTokenHeader))
	if err != nil {
		h.writeError(c, "record decision", err)
		return
	}

	c.JSON(http.StatusOK, app)
}

// getApplication handles GET /api/v1/applications/:id
func (h *Handler) getApplication(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	app, err := h.service.GetApplication(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get application", err)
		return
	}

	c.JSON(http.StatusOK, app)
}

// getStatus handles GET /api/v1/applications/:id/status
func (h *Handler) getStatus(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get application status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// getValidationLog handles GET /api/v1/applications/:id/validation-log
func (h *Handler) getValidationLog(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	log, err := h.service.GetValidationLog(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get validation log", err)
		return
	}

	c.JSON(http.StatusOK, log)
}

// listValidationLogs handles GET /api/v1/applications/:id/validation-logs
func (h *Handler) listValidationLogs(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	logs, err := h.service.ListValidationLogs(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "list validation logs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"validation_logs": logs})
}

// listDocuments handles GET /api/v1/applications/:id/documents
func (h *Handler) listDocuments(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "list documents", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// deleteApplication handles DELETE /api/v1/applications/:id
func (h *Handler) deleteApplication(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteApplication(c.Request.Context(), id); err != nil {
		h.writeError(c, "delete application", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// deleteDocument handles DELETE /api/v1/applications/documents/:documentId
func (h *Handler) deleteDocument(c *gin.Context) {
	id, ok := h.parseID(c, "documentId")
	if !ok {
		return
	}

	if err := h.service.DeleteDocument(c.Request.Context(), id); err != nil {
		h.writeError(c, "delete document", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// readUploads pairs each file in "files" with the type at the same position
// in "document_types"
func (h *Handler) readUploads(c *gin.Context) ([]documents.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		verr := &apperrors.ValidationInputError{}
		verr.Add("documents", "multipart form is required")
		return nil, verr
	}

	files := form.File["files"]
	types := form.Value["document_types"]
	if len(files) != len(types) {
		verr := &apperrors.ValidationInputError{}
		verr.Add("document_types", fmt.Sprintf("expected %d document types, got %d", len(files), len(types)))
		return nil, verr
	}

	uploads := make([]documents.Upload, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(io.LimitReader(f, h.maxFileBytes+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}

		uploads = append(uploads, documents.Upload{
			DocumentType: documents.DocumentType(types[i]),
			FileName:     fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			Content:      content,
		})
	}
	return uploads, nil
}

func (h *Handler) parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, op string, err error) {
	kind := apperrors.Classify(err, workerpool.ErrCapacityExceeded)
	status := apperrors.HTTPStatus(kind)

	body := gin.H{"error": err.Error(), "type": kind}
	var verr *apperrors.ValidationInputError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Failed to "+op, zap.Error(err), zap.String("path", c.FullPath()))
	} else {
		h.logger.Debug("Request rejected", zap.String("operation", op), zap.Error(err))
	}
	c.JSON(status, body)
}
