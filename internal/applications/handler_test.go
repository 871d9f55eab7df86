package applications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"loanwise/loan-portal/loan-portal-backend/internal/documents"
	"loanwise/loan-portal/loan-portal-backend/internal/validation"
	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

// MockService is a mock implementation of ApplicationService
type MockService struct {
	mock.Mock
}

func (m *MockService) Submit(ctx context.Context, fields ApplicantFields, uploads []documents.Upload) (*SubmitResult, error) {
	args := m.Called(ctx, fields, uploads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SubmitResult), args.Error(1)
}

func (m *MockService) Resubmit(ctx context.Context, id uuid.UUID, uploads []documents.Upload) (*SubmitResult, error) {
	args := m.Called(ctx, id, uploads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SubmitResult), args.Error(1)
}

func (m *MockService) Decide(ctx context.Context, id uuid.UUID, decision Decision, token string) (*Application, error) {
	args := m.Called(ctx, id, decision, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Application), args.Error(1)
}

func (m *MockService) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Application), args.Error(1)
}

func (m *MockService) GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StatusView), args.Error(1)
}

func (m *MockService) GetValidationLog(ctx context.Context, id uuid.UUID) (*validation.ValidationLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*validation.ValidationLog), args.Error(1)
}

func (m *MockService) ListValidationLogs(ctx context.Context, id uuid.UUID) ([]validation.ValidationLog, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]validation.ValidationLog), args.Error(1)
}

func (m *MockService) ListDocuments(ctx context.Context, id uuid.UUID) ([]documents.Document, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]documents.Document), args.Error(1)
}

func (m *MockService) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockService) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	return m.Called(ctx, documentID).Error(0)
}

func setupRouter(t *testing.T, svc ApplicationService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc, 1024, zaptest.NewLogger(t)).RegisterRoutes(router.Group("/api/v1"))
	return router
}

type formFile struct {
	name        string
	contentType string
	content     []byte
}

func multipartBody(t *testing.T, values map[string][]string, files []formFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for key, vals := range values {
		for _, v := range vals {
			require.NoError(t, w.WriteField(key, v))
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, f.name))
		header.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func submissionValues() map[string][]string {
	return map[string][]string{
		"applicant_name":   {"Jane Doe"},
		"email":            {"jane@example.com"},
		"requested_amount": {"25000.00"},
		"term_months":      {"36"},
		"annual_income":    {"84000"},
		"city":             {"Springfield"},
		"document_types":   {"IDENTITY", "income"},
	}
}

func submissionFiles() []formFile {
	return []formFile{
		{name: "passport.pdf", contentType: "application/pdf", content: pdfBytes},
		{name: "payslip.png", contentType: "image/png", content: pngBytes},
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_Submit(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("Submit", mock.Anything,
		mock.MatchedBy(func(f ApplicantFields) bool {
			return f.ApplicantName == "Jane Doe" && f.RequestedAmount.String() == "25000" &&
				f.TermMonths == 36 && f.City == "Springfield"
		}),
		mock.MatchedBy(func(u []documents.Upload) bool {
			return len(u) == 2 &&
				u[0].DocumentType == "IDENTITY" && u[0].FileName == "passport.pdf" && bytes.Equal(u[0].Content, pdfBytes) &&
				u[1].DocumentType == "income" && u[1].ContentType == "image/png"
		}),
	).Return(&SubmitResult{ApplicationID: id, Status: StatusVerified}, nil)

	router := setupRouter(t, svc)
	body, contentType := multipartBody(t, submissionValues(), submissionFiles())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeBody(t, w)
	assert.Equal(t, id.String(), resp["application_id"])
	assert.Equal(t, "VERIFIED", resp["status"])
	svc.AssertExpectations(t)
}

func TestHandler_SubmitBadNumbers(t *testing.T) {
	svc := new(MockService)
	router := setupRouter(t, svc)

	values := submissionValues()
	values["requested_amount"] = []string{"lots"}
	values["term_months"] = []string{"3.5"}
	body, contentType := multipartBody(t, values, submissionFiles())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "validation", resp["type"])
	assert.Len(t, resp["fields"], 2)
	svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_SubmitTypeCountMismatch(t *testing.T) {
	svc := new(MockService)
	router := setupRouter(t, svc)

	values := submissionValues()
	values["document_types"] = []string{"IDENTITY"}
	body, contentType := multipartBody(t, values, submissionFiles())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "document_types")
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &apperrors.ValidationInputError{Fields: []apperrors.FieldError{{Field: "email", Message: "is required"}}}, http.StatusBadRequest},
		{"capacity", workerpool.ErrCapacityExceeded, http.StatusServiceUnavailable},
		{"persistence", apperrors.NewPersistenceError("create application", errors.New("connection refused")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)
			router := setupRouter(t, svc)

			body, contentType := multipartBody(t, submissionValues(), submissionFiles())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestHandler_GetApplication(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("GetApplication", mock.Anything, id).Return(&Application{ID: id, Status: StatusNeedsReview}, nil)
	missing := uuid.New()
	svc.On("GetApplication", mock.Anything, missing).Return(nil, fmt.Errorf("application %s: %w", missing, apperrors.ErrNotFound))
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/applications/"+id.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NEEDS_REVIEW", decodeBody(t, w)["status"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/applications/"+missing.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/applications/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ReadEndpoints(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("GetStatus", mock.Anything, id).Return(&StatusView{ApplicationID: id, Status: StatusVerified, AllowedTransitions: []string{"APPROVED"}}, nil)
	svc.On("GetValidationLog", mock.Anything, id).Return(&validation.ValidationLog{ApplicationID: id, ValidationStatus: validation.StatusValid}, nil)
	svc.On("ListValidationLogs", mock.Anything, id).Return([]validation.ValidationLog{{ApplicationID: id}}, nil)
	svc.On("ListDocuments", mock.Anything, id).Return([]documents.Document{{ApplicationID: id}, {ApplicationID: id}}, nil)
	router := setupRouter(t, svc)

	get := func(path string) map[string]any {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/applications/"+id.String()+path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
		return decodeBody(t, w)
	}

	assert.Equal(t, "VERIFIED", get("/status")["status"])
	assert.Equal(t, "VALID", get("/validation-log")["validation_status"])
	assert.Len(t, get("/validation-logs")["validation_logs"], 1)
	assert.Len(t, get("/documents")["documents"], 2)
	svc.AssertExpectations(t)
}

func TestHandler_Resubmit(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("Resubmit", mock.Anything, id, []documents.Upload(nil)).
		Return(&SubmitResult{ApplicationID: id, Status: StatusNeedsReview}, nil).Once()
	svc.On("Resubmit", mock.Anything, id, mock.MatchedBy(func(u []documents.Upload) bool { return len(u) == 2 })).
		Return(&SubmitResult{ApplicationID: id, Status: StatusVerified}, nil).Once()
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/applications/"+id.String()+"/resubmit", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NEEDS_REVIEW", decodeBody(t, w)["status"])

	body, contentType := multipartBody(t, map[string][]string{"document_types": {"IDENTITY", "INCOME"}}, submissionFiles())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/"+id.String()+"/resubmit", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "VERIFIED", decodeBody(t, w)["status"])
	svc.AssertExpectations(t)
}

func TestHandler_Decide(t *testing.T) {
	svc := new(MockService)
	id := uuid.New()
	svc.On("Decide", mock.Anything, id, Decision{Status: StatusApproved, Reviewer: "officer-7"}, "secret").
		Return(&Application{ID: id, Status: StatusApproved}, nil)
	svc.On("Decide", mock.Anything, id, mock.Anything, "").
		Return(nil, apperrors.ErrForbidden)
	router := setupRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/"+id.String()+"/decision",
		strings.NewReader(`{"decision":"approved","reviewer":"officer-7"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ReviewerTokenHeader, "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "APPROVED", decodeBody(t, w)["status"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/applications/"+id.String()+"/decision",
		strings.NewReader(`{"decision":"REJECTED"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_Deletes(t *testing.T) {
	svc := new(MockService)
	appID := uuid.New()
	docID := uuid.New()
	svc.On("DeleteApplication", mock.Anything, appID).Return(nil)
	svc.On("DeleteDocument", mock.Anything, docID).Return(fmt.Errorf("document %s: %w", docID, apperrors.ErrNotFound))
	router := setupRouter(t, svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/applications/"+appID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/applications/documents/"+docID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertExpectations(t)
}
