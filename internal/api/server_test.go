package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talemon/pagewatch/internal/watch"
)

type fakePageStore struct {
	pages   map[int64]watch.Page
	nextID  int64
	listErr error
}

func newFakePageStore() *fakePageStore {
	return &fakePageStore{pages: map[int64]watch.Page{}, nextID: 1}
}

func (s *fakePageStore) UpsertPage(_ context.Context, url string, interval time.Duration) (watch.Page, error) {
	if !strings.HasPrefix(url, "http") {
		return watch.Page{}, errors.New("url must be absolute")
	}
	for _, p := range s.pages {
		if p.URL == url {
			return p, nil
		}
	}
	now := time.Now().UTC()
	page := watch.Page{
		ID:            s.nextID,
		URL:           url,
		URLHash:       "hash",
		Domain:        "example.com",
		Status:        watch.StatusPending,
		NextCheckAt:   now,
		CheckInterval: interval,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.pages[page.ID] = page
	s.nextID++
	return page, nil
}

func (s *fakePageStore) GetPage(_ context.Context, id int64) (watch.Page, error) {
	p, ok := s.pages[id]
	if !ok {
		return watch.Page{}, watch.ErrPageNotFound
	}
	return p, nil
}

func (s *fakePageStore) ListPages(_ context.Context, limit int) ([]watch.Page, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]watch.Page, 0, len(s.pages))
	for _, p := range s.pages {
		if len(out) == limit {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePageStore) DeletePage(_ context.Context, id int64) error {
	if _, ok := s.pages[id]; !ok {
		return watch.ErrPageNotFound
	}
	delete(s.pages, id)
	return nil
}

func (s *fakePageStore) setStatus(id int64, status watch.PageStatus) error {
	p, ok := s.pages[id]
	if !ok {
		return watch.ErrPageNotFound
	}
	p.Status = status
	s.pages[id] = p
	return nil
}

func (s *fakePageStore) Pause(_ context.Context, id int64) error {
	return s.setStatus(id, watch.StatusPaused)
}

func (s *fakePageStore) Resume(_ context.Context, id int64) error {
	return s.setStatus(id, watch.StatusPending)
}

func (s *fakePageStore) ClaimDue(context.Context, int) ([]watch.Page, error) { return nil, nil }
func (s *fakePageStore) Claim(context.Context, int64) (watch.Page, error) {
	return watch.Page{}, watch.ErrClaimConflict
}
func (s *fakePageStore) Heartbeat(context.Context, int64) error { return nil }
func (s *fakePageStore) ReclaimZombies(context.Context, time.Duration) ([]int64, error) {
	return nil, nil
}
func (s *fakePageStore) CompleteCheck(context.Context, int64, watch.CaptureResult) error {
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(store watch.PageStore, cfg Config) *httptest.Server {
	return httptest.NewServer(NewServer(store, nil, cfg, zap.NewNop()).Handler())
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakePageStore(), Config{})
	defer srv.Close()

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyzChecksDownstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(NewServer(newFakePageStore(), fakePinger{err: errors.New("down")}, Config{}, zap.NewNop()).Handler())
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreateAndGetPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakePageStore(), Config{})
	defer srv.Close()

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/v1/pages",
		`{"url":"https://example.com/page","check_interval_seconds":600}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "https://example.com/page", created["url"])
	assert.Equal(t, float64(600), created["check_interval_seconds"])
	assert.Equal(t, string(watch.StatusPending), created["status"])

	id := int64(created["id"].(float64))
	resp, got := doJSON(t, http.MethodGet, srv.URL+"/v1/pages/"+itoa(id), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created["url"], got["url"])
}

func TestCreatePageValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakePageStore(), Config{})
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/pages", `{"check_interval_seconds":600}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/pages", `not-json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/pages", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPages(t *testing.T) {
	t.Parallel()

	store := newFakePageStore()
	srv := newTestServer(store, Config{})
	defer srv.Close()

	for _, u := range []string{"https://a.example.com", "https://b.example.com"} {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/pages", `{"url":"`+u+`"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/pages", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["pages"], 2)

	resp, payload = doJSON(t, http.MethodGet, srv.URL+"/v1/pages?limit=1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["pages"], 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/pages?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPauseAndResumePage(t *testing.T) {
	t.Parallel()

	store := newFakePageStore()
	srv := newTestServer(store, Config{})
	defer srv.Close()

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/v1/pages", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := itoa(int64(created["id"].(float64)))

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/pages/"+id+"/pause", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(watch.StatusPaused), payload["status"])

	resp, payload = doJSON(t, http.MethodPost, srv.URL+"/v1/pages/"+id+"/resume", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(watch.StatusPending), payload["status"])
}

func TestDeletePage(t *testing.T) {
	t.Parallel()

	store := newFakePageStore()
	srv := newTestServer(store, Config{})
	defer srv.Close()

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/v1/pages", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := itoa(int64(created["id"].(float64)))

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/pages/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/pages/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPageNotFoundAndBadID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakePageStore(), Config{})
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/pages/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/pages/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakePageStore(), Config{AuthEnabled: true, APIKey: "secret"})
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/pages", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/pages", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	// Health stays open without a key.
	open, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, open.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakePageStore(), Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
