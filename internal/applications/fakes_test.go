package applications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loanwise/loan-portal/loan-portal-backend/internal/documents"
	"loanwise/loan-portal/loan-portal-backend/internal/notifications"
	"loanwise/loan-portal/loan-portal-backend/internal/validation"
	"loanwise/loan-portal/loan-portal-backend/internal/verifier"
	apperrors "loanwise/loan-portal/loan-portal-backend/pkg/errors"
	"loanwise/loan-portal/loan-portal-backend/pkg/storage"
	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

// memoryRepository keeps applications in memory and records every status
// each one was saved with
type memoryRepository struct {
	mu      sync.Mutex
	apps    map[uuid.UUID]Application
	history map[uuid.UUID][]Status
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		apps:    make(map[uuid.UUID]Application),
		history: make(map[uuid.UUID][]Status),
	}
}

func (r *memoryRepository) Create(_ context.Context, app *Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app.ID]; ok {
		return fmt.Errorf("duplicate application %s", app.ID)
	}
	r.apps[app.ID] = app.clone()
	r.history[app.ID] = append(r.history[app.ID], app.Status)
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return nil, nil
	}
	c := app.clone()
	return &c, nil
}

func (r *memoryRepository) Update(_ context.Context, app *Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app.ID]; !ok {
		return fmt.Errorf("application %s: %w", app.ID, apperrors.ErrNotFound)
	}
	r.apps[app.ID] = app.clone()
	r.history[app.ID] = append(r.history[app.ID], app.Status)
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.apps, id)
	return nil
}

func (r *memoryRepository) ListStale(_ context.Context, statuses []Status, before time.Time, limit int) ([]Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Application
	for _, app := range r.apps {
		for _, s := range statuses {
			if app.Status == s && app.UpdatedAt.Before(before) {
				out = append(out, app.clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) seed(app Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.ID] = app.clone()
}

func (r *memoryRepository) statusHistory(id uuid.UUID) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.history[id]...)
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.apps)
}

// memoryDocuments is an in-memory documents.Repository
type memoryDocuments struct {
	mu   sync.Mutex
	docs []documents.Document
}

func (r *memoryDocuments) Create(_ context.Context, doc *documents.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.StorageID == doc.StorageID {
			return fmt.Errorf("duplicate storage id %s", doc.StorageID)
		}
	}
	r.docs = append(r.docs, *doc)
	return nil
}

func (r *memoryDocuments) GetByID(_ context.Context, id uuid.UUID) (*documents.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.ID == id {
			c := d
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memoryDocuments) ListByApplicationID(_ context.Context, applicationID uuid.UUID) ([]documents.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []documents.Document{}
	for _, d := range r.docs {
		if d.ApplicationID == applicationID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memoryDocuments) MarkVerified(_ context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.docs {
		for _, id := range ids {
			if r.docs[i].ID == id && !r.docs[i].Verified {
				ts := at
				r.docs[i].Verified = true
				r.docs[i].VerifiedAt = &ts
				n++
			}
		}
	}
	return n, nil
}

func (r *memoryDocuments) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.docs {
		if d.ID == id {
			r.docs = append(r.docs[:i], r.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *memoryDocuments) byApplication(id uuid.UUID) []documents.Document {
	docs, _ := r.ListByApplicationID(context.Background(), id)
	return docs
}

// memoryLogs is an in-memory validation.Repository
type memoryLogs struct {
	mu        sync.Mutex
	logs      []validation.ValidationLog
	createErr error
}

func (r *memoryLogs) Create(_ context.Context, log *validation.ValidationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.logs = append(r.logs, *log)
	return nil
}

func (r *memoryLogs) LatestByApplicationID(_ context.Context, applicationID uuid.UUID) (*validation.ValidationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].ApplicationID == applicationID {
			l := r.logs[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (r *memoryLogs) ListByApplicationID(_ context.Context, applicationID uuid.UUID) ([]validation.ValidationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []validation.ValidationLog{}
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].ApplicationID == applicationID {
			out = append(out, r.logs[i])
		}
	}
	return out, nil
}

func (r *memoryLogs) forApplication(id uuid.UUID) []validation.ValidationLog {
	logs, _ := r.ListByApplicationID(context.Background(), id)
	return logs
}

// fakeInvoker answers with respond and records every request
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []verifier.Request
	respond func(req verifier.Request) (*verifier.Result, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req verifier.Request) (*verifier.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// reportInvoker always answers with the given verifier report
func reportInvoker(report string) *fakeInvoker {
	return &fakeInvoker{respond: func(verifier.Request) (*verifier.Result, error) {
		return verifier.Parse([]byte(report))
	}}
}

// failingStore fails the failOn-th upload
type failingStore struct {
	*storage.MemoryStore
	mu      sync.Mutex
	uploads int
	failOn  int
}

func (s *failingStore) Upload(ctx context.Context, blob []byte, contentType string) (*storage.Object, error) {
	s.mu.Lock()
	s.uploads++
	n := s.uploads
	s.mu.Unlock()
	if n == s.failOn {
		return nil, &storage.StorageError{Op: "upload", Err: errors.New("connection reset by peer")}
	}
	return s.MemoryStore.Upload(ctx, blob, contentType)
}

// recordingNotifier keeps every event it is told about
type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.StatusEvent
	err    error
}

func (n *recordingNotifier) StatusChanged(_ context.Context, event notifications.StatusEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

// stubScheduler rejects or reports busy without running anything
type stubScheduler struct {
	submitErr error
	busy      map[string]bool
	inner     Scheduler
}

func (s *stubScheduler) Submit(key string, task workerpool.Task) (<-chan struct{}, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.inner.Submit(key, task)
}

func (s *stubScheduler) Busy(key string) bool {
	return s.busy[key]
}

// staticReviewers maps accepted tokens to reviewer identities
type staticReviewers map[string]string

func (s staticReviewers) Authenticate(token string) (string, error) {
	if reviewer, ok := s[token]; ok {
		return reviewer, nil
	}
	return "", errors.New("unknown reviewer token")
}

// flakyDocuments fails listing or verified-marking on request
type flakyDocuments struct {
	documents.Service
	listErr error
	markErr error
}

func (f *flakyDocuments) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]documents.Document, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Service.ListByApplication(ctx, applicationID)
}

func (f *flakyDocuments) MarkVerified(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.Service.MarkVerified(ctx, ids, at)
}
