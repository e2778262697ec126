package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/avmerge/internal/domain"
	"github.com/phrazzld/avmerge/internal/eviction"
	"github.com/phrazzld/avmerge/internal/service"
	"github.com/stretchr/testify/require"
)

// MockMergeService is a mock implementation of service.MergeService for testing
type MockMergeService struct {
	SubmitFn      func(ctx context.Context, req service.SubmitRequest) (*domain.Task, error)
	GetStatusFn   func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	DownloadFn    func(ctx context.Context, id uuid.UUID) (*service.Download, error)
	ListTasksFn   func(ctx context.Context, req service.ListTasksRequest) (*service.TaskList, error)
	InfoFn        func(ctx context.Context) (*service.Info, error)
	CleanupFn     func(ctx context.Context) (eviction.Result, error)
	SetCapacityFn func(ctx context.Context, n int) (*service.CapacityChange, error)
}

var _ service.MergeService = (*MockMergeService)(nil)

// Submit implements service.MergeService
func (m *MockMergeService) Submit(ctx context.Context, req service.SubmitRequest) (*domain.Task, error) {
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, req)
	}
	return nil, nil
}

// GetStatus implements service.MergeService
func (m *MockMergeService) GetStatus(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetStatusFn != nil {
		return m.GetStatusFn(ctx, id)
	}
	return nil, service.ErrTaskNotFound
}

// Download implements service.MergeService
func (m *MockMergeService) Download(ctx context.Context, id uuid.UUID) (*service.Download, error) {
	if m.DownloadFn != nil {
		return m.DownloadFn(ctx, id)
	}
	return nil, service.ErrTaskNotFound
}

// ListTasks implements service.MergeService
func (m *MockMergeService) ListTasks(ctx context.Context, req service.ListTasksRequest) (*service.TaskList, error) {
	if m.ListTasksFn != nil {
		return m.ListTasksFn(ctx, req)
	}
	return &service.TaskList{Limit: req.Limit}, nil
}

// Info implements service.MergeService
func (m *MockMergeService) Info(ctx context.Context) (*service.Info, error) {
	if m.InfoFn != nil {
		return m.InfoFn(ctx)
	}
	return &service.Info{}, nil
}

// Cleanup implements service.MergeService
func (m *MockMergeService) Cleanup(ctx context.Context) (eviction.Result, error) {
	if m.CleanupFn != nil {
		return m.CleanupFn(ctx)
	}
	return eviction.Result{}, nil
}

// SetCapacity implements service.MergeService
func (m *MockMergeService) SetCapacity(ctx context.Context, n int) (*service.CapacityChange, error) {
	if m.SetCapacityFn != nil {
		return m.SetCapacityFn(ctx, n)
	}
	return &service.CapacityChange{New: n}, nil
}

// withChiParam attaches a chi route parameter to the request.
func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type formPart struct {
	field    string
	filename string
	content  string
}

// newMultipartRequest builds a POST with the given file parts.
func newMultipartRequest(t *testing.T, target string, parts ...formPart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
