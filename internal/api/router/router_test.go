package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/cuongbtq/reels-scheduler/internal/api/dto"
	"github.com/cuongbtq/reels-scheduler/internal/api/handler"
	"github.com/cuongbtq/reels-scheduler/internal/api/router"
	"github.com/cuongbtq/reels-scheduler/internal/blob"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/cuongbtq/reels-scheduler/internal/storage/storagetest"
	"github.com/cuongbtq/reels-scheduler/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	fail     bool
	messages []domain.Message
}

func (q *fakeQueue) Publish(_ context.Context, msg domain.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("broker unreachable")
	}
	q.messages = append(q.messages, msg)
	return nil
}

type fakeAccounts struct {
	accounts []domain.Account
	err      error
	token    string
}

func (f *fakeAccounts) ListAccounts(_ context.Context, token string) ([]domain.Account, error) {
	f.token = token
	return f.accounts, f.err
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type testServer struct {
	engine   *gin.Engine
	store    *storage.Storage
	queue    *fakeQueue
	accounts *fakeAccounts
}

func newTestServer(t *testing.T, mutate func(*handler.Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storagetest.New(t)
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	queue := &fakeQueue{}
	accounts := &fakeAccounts{}
	service := submission.NewService(store, blobs, queue, pool, storagetest.Logger(), submission.Options{MaxBulkItems: 10})

	deps := &handler.Dependencies{
		Logger:        storagetest.Logger(),
		Submitter:     service,
		Jobs:          store,
		Media:         blobs,
		Accounts:      accounts,
		AccountsToken: "user-token",
		MaxUploadSize: 1 << 20,
	}
	if mutate != nil {
		mutate(deps)
	}

	return &testServer{
		engine:   router.SetupRouter(deps),
		store:    store,
		queue:    queue,
		accounts: accounts,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type upload struct {
	field string
	name  string
	data  []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", "video/mp4")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func accountFields(extra map[string]string) map[string]string {
	fields := map[string]string{
		"accountId":   "17841400000000001",
		"username":    "reels_owner",
		"accessToken": "page-token",
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateJob(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(multipartRequest(t, "/api/v1/jobs",
		accountFields(map[string]string{"scheduleAt": "2024-05-01T10:00:00Z", "caption": "hello"}),
		upload{field: "video", name: "clip.mp4", data: []byte("video-bytes")},
	))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	job := decode[dto.JobDTO](t, w)
	assert.Equal(t, "pending", job.Status)
	assert.Equal(t, "2024-05-01T10:00:00Z", job.Datetime)
	assert.Equal(t, "hello", job.Caption)
	assert.NotContains(t, w.Body.String(), "page-token")

	require.Len(t, s.queue.messages, 1)
	assert.Equal(t, job.ID, s.queue.messages[0].JobID)

	// The stored media is reachable through the public media route
	media := s.do(httptest.NewRequest(http.MethodGet, "/media/"+job.MediaKey, nil))
	require.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, "video-bytes", media.Body.String())
	assert.Equal(t, "video/mp4", media.Header().Get("Content-Type"))
}

func TestCreateJob_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		files  []upload
	}{
		{
			name:   "missing video",
			fields: accountFields(map[string]string{"scheduleAt": "2024-05-01T10:00:00Z"}),
		},
		{
			name:   "missing schedule time",
			fields: accountFields(nil),
			files:  []upload{{field: "video", name: "clip.mp4", data: []byte("x")}},
		},
		{
			name:   "bad schedule time",
			fields: accountFields(map[string]string{"scheduleAt": "tomorrow"}),
			files:  []upload{{field: "video", name: "clip.mp4", data: []byte("x")}},
		},
		{
			name:   "missing token",
			fields: map[string]string{"accountId": "1", "username": "u", "scheduleAt": "2024-05-01T10:00:00Z"},
			files:  []upload{{field: "video", name: "clip.mp4", data: []byte("x")}},
		},
		{
			name:   "file too large",
			fields: accountFields(map[string]string{"scheduleAt": "2024-05-01T10:00:00Z"}),
			files:  []upload{{field: "video", name: "big.mp4", data: make([]byte, 1<<20+1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)

			w := s.do(multipartRequest(t, "/api/v1/jobs", tt.fields, tt.files...))
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "invalid")
			assert.Empty(t, s.queue.messages)

			jobs, err := s.store.ListAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestCreateJob_NotMultipart(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"video":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	w := s.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJob_QueueUnavailable(t *testing.T) {
	s := newTestServer(t, nil)
	s.queue.fail = true

	w := s.do(multipartRequest(t, "/api/v1/jobs",
		accountFields(map[string]string{"scheduleAt": "2024-05-01T10:00:00Z"}),
		upload{field: "video", name: "clip.mp4", data: []byte("x")},
	))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "broker")

	jobs, err := s.store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs, "unqueued job must not be left pending")
}

func TestCreateBulkJobs_AndList(t *testing.T) {
	s := newTestServer(t, nil)

	files := make([]upload, 7)
	for i := range files {
		files[i] = upload{field: "videos", name: fmt.Sprintf("clip%d.mp4", i), data: []byte{byte(i)}}
	}

	w := s.do(multipartRequest(t, "/api/v1/jobs/bulk", accountFields(map[string]string{"startDate": "2024-01-01"}), files...))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 7, decode[dto.BulkJobsResponse](t, w).Created)
	assert.Len(t, s.queue.messages, 7)

	first := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=5", nil))
	require.Equal(t, http.StatusOK, first.Code)
	page := decode[dto.ListJobsResponse](t, first)
	require.Len(t, page.Jobs, 5)
	require.NotEmpty(t, page.NextCursor)

	wantTimes := []string{
		"2024-01-01T08:00:00Z", "2024-01-01T11:00:00Z", "2024-01-01T14:00:00Z",
		"2024-01-01T17:00:00Z", "2024-01-01T20:00:00Z",
	}
	for i, job := range page.Jobs {
		assert.Equal(t, wantTimes[i], job.Datetime)
	}

	second := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=5&cursor="+page.NextCursor, nil))
	require.Equal(t, http.StatusOK, second.Code)
	rest := decode[dto.ListJobsResponse](t, second)
	require.Len(t, rest.Jobs, 2)
	assert.Empty(t, rest.NextCursor)
	assert.Equal(t, "2024-01-02T08:00:00Z", rest.Jobs[0].Datetime)
	assert.Equal(t, "2024-01-02T11:00:00Z", rest.Jobs[1].Datetime)

	all := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	require.Equal(t, http.StatusOK, all.Code)
	assert.Len(t, decode[dto.ListJobsResponse](t, all).Jobs, 7)
}

func TestCreateBulkJobs_Rejected(t *testing.T) {
	s := newTestServer(t, nil)

	tooMany := make([]upload, 11)
	for i := range tooMany {
		tooMany[i] = upload{field: "videos", name: "clip.mp4", data: []byte("x")}
	}

	w := s.do(multipartRequest(t, "/api/v1/jobs/bulk", accountFields(map[string]string{"startDate": "2024-01-01"}), tooMany...))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(multipartRequest(t, "/api/v1/jobs/bulk", accountFields(map[string]string{"startDate": "2024-01-01"})))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(multipartRequest(t, "/api/v1/jobs/bulk", accountFields(nil),
		upload{field: "videos", name: "clip.mp4", data: []byte("x")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, s.queue.messages)
}

func TestListJobs_BadQuery(t *testing.T) {
	s := newTestServer(t, nil)

	for _, target := range []string{
		"/api/v1/jobs?status=running",
		"/api/v1/jobs?cursor=not-a-cursor",
		"/api/v1/jobs?page_size=ten",
	} {
		w := s.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t, nil)

	created := s.do(multipartRequest(t, "/api/v1/jobs",
		accountFields(map[string]string{"scheduleAt": "2024-05-01T10:00"}),
		upload{field: "video", name: "clip.mp4", data: []byte("x")},
	))
	require.Equal(t, http.StatusCreated, created.Code)
	id := decode[dto.JobDTO](t, created).ID

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[dto.JobDTO](t, w).ID)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/3f2b8c1e-5d4a-4f6b-9c7d-1e2f3a4b5c6d", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAccounts(t *testing.T) {
	s := newTestServer(t, nil)
	s.accounts.accounts = []domain.Account{
		{Username: "reels_owner", AccountID: "17841400000000001", AccessToken: "page-token"},
	}

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-token", s.accounts.token)

	resp := decode[dto.ListAccountsResponse](t, w)
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "17841400000000001", resp.Accounts[0].AccountID)
	assert.Equal(t, "page-token", resp.Accounts[0].PageAccessToken)
}

func TestListAccounts_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	s.accounts.err = fmt.Errorf("list accounts: %w", domain.ErrUpstreamPublish)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	unconfigured := newTestServer(t, func(d *handler.Dependencies) { d.AccountsToken = "" })
	w = unconfigured.do(httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetMedia_Missing(t *testing.T) {
	s := newTestServer(t, nil)

	for _, target := range []string{"/media/nope.mp4", "/media/", "/media/a/b.mp4", "/media/x.content-type"} {
		w := s.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, func(d *handler.Dependencies) { d.Health = fakeHealth{} })
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	s = newTestServer(t, func(d *handler.Dependencies) { d.Health = fakeHealth{err: io.ErrUnexpectedEOF} })
	w = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = s.do(req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = s.do(httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
