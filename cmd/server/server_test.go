package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pauljones0/rfd-deal-digest/internal/models"
	"github.com/pauljones0/rfd-deal-digest/internal/processor"
	"github.com/pauljones0/rfd-deal-digest/internal/storage"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []processor.Trigger
	report   processor.Report
}

func (f *fakeRunner) Run(_ context.Context, trigger processor.Trigger) processor.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	r := f.report
	r.Trigger = trigger
	return r
}

type memStore struct {
	mu     sync.Mutex
	active map[string]bool
	order  []string
	err    error
}

func newMemStore() *memStore { return &memStore{active: map[string]bool{}} }

func (m *memStore) AddOrReactivate(_ context.Context, email string) (models.SubscribeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.StatusError, m.err
	}
	active, ok := m.active[email]
	switch {
	case !ok:
		m.active[email] = true
		m.order = append(m.order, email)
		return models.StatusNew, nil
	case active:
		return models.StatusAlreadyActive, nil
	default:
		m.active[email] = true
		return models.StatusReactivated, nil
	}
}

func (m *memStore) Deactivate(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.active[email]; ok {
		m.active[email] = false
	}
	return nil
}

func (m *memStore) list(want bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []string{}
	for _, e := range m.order {
		if m.active[e] == want {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListActive(context.Context) ([]string, error)   { return m.list(true) }
func (m *memStore) ListInactive(context.Context) ([]string, error) { return m.list(false) }
func (m *memStore) ListSubscribers(_ context.Context, active bool) ([]models.Subscriber, error) {
	emails, err := m.list(active)
	if err != nil {
		return nil, err
	}
	subs := make([]models.Subscriber, 0, len(emails))
	for _, e := range emails {
		subs = append(subs, models.Subscriber{Email: e, IsActive: active})
	}
	return subs, nil
}
func (m *memStore) Get(context.Context, string) (*models.Subscriber, error) {
	return nil, nil
}
func (m *memStore) Close() error { return nil }

var _ storage.SubscriberStore = (*memStore)(nil)

const testSchedulerToken = "sched-token"

func newTestServer(runner *fakeRunner, store *memStore) *Server {
	return NewServer(runner, store, Options{
		AdminUsername:  "admin",
		AdminPassword:  "secret",
		SchedulerToken: testSchedulerToken,
		ManualEvery:    time.Hour,
		ScheduledEvery: time.Hour,
	})
}

func scheduledRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/process-digest", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func formRequest(path, email string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(url.Values{"email": {email}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeRunner{}, newMemStore()).Routes()
	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSubscribe_Lifecycle(t *testing.T) {
	store := newMemStore()
	h := newTestServer(&fakeRunner{}, store).Routes()

	rec, body := do(t, h, formRequest("/subscribe", "a@x.com"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", body["status"])

	rec, body = do(t, h, formRequest("/subscribe", "a@x.com"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_active", body["status"])
	assert.Equal(t, "This email is already subscribed.", body["message"])

	rec, _ = do(t, h, formRequest("/unsubscribe", "a@x.com"))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/subscribe", strings.NewReader(`{"email":"a@x.com"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec, body = do(t, h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reactivated", body["status"])
}

func TestSubscribe_InvalidEmail(t *testing.T) {
	store := newMemStore()
	h := newTestServer(&fakeRunner{}, store).Routes()

	for _, email := range []string{"", "no-at-sign", "two@@x.com"} {
		rec, body := do(t, h, formRequest("/subscribe", email))
		assert.Equal(t, http.StatusBadRequest, rec.Code, email)
		assert.Equal(t, "Please enter a valid email address.", body["message"])
	}

	req := httptest.NewRequest(http.MethodPost, "/subscribe", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	rec, _ := do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	active, _ := store.ListActive(context.Background())
	assert.Empty(t, active)
}

func TestSubscribe_StoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk full")
	h := newTestServer(&fakeRunner{}, store).Routes()

	rec, body := do(t, h, formRequest("/subscribe", "a@x.com"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", body["status"])

	rec, _ = do(t, h, formRequest("/unsubscribe", "a@x.com"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnsubscribe_UnknownEmail(t *testing.T) {
	h := newTestServer(&fakeRunner{}, newMemStore()).Routes()
	rec, _ := do(t, h, formRequest("/unsubscribe", "nobody@x.com"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessDigest_RunsScheduledInBackground(t *testing.T) {
	runner := &fakeRunner{report: processor.Report{Recipients: 3}}
	srv := newTestServer(runner, newMemStore())

	rec, body := do(t, srv.Routes(), scheduledRequest(testSchedulerToken))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", body["status"])

	srv.Wait()
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []processor.Trigger{processor.TriggerScheduled}, runner.triggers)
}

func TestProcessDigest_RequiresCredentials(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, newMemStore())
	h := srv.Routes()

	for _, req := range []*http.Request{scheduledRequest(""), scheduledRequest("wrong")} {
		rec, _ := do(t, h, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	}

	req := scheduledRequest("")
	req.SetBasicAuth("admin", "wrong")
	rec, _ := do(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	srv.Wait()
	runner.mu.Lock()
	assert.Empty(t, runner.triggers)
	runner.mu.Unlock()

	req = scheduledRequest("")
	req.SetBasicAuth("admin", "secret")
	rec, _ = do(t, h, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	srv.Wait()
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []processor.Trigger{processor.TriggerScheduled}, runner.triggers)
}

func TestProcessDigest_RateLimited(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner, newMemStore())
	h := srv.Routes()

	codes := []int{}
	for range 5 {
		rec, _ := do(t, h, scheduledRequest(testSchedulerToken))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{
		http.StatusAccepted,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)

	srv.Wait()
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.triggers, 1)
}

func TestProcessDigest_NotConfigured(t *testing.T) {
	runner := &fakeRunner{}
	srv := NewServer(runner, newMemStore(), Options{})

	rec, _ := do(t, srv.Routes(), scheduledRequest(""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv.Wait()
	assert.Empty(t, runner.triggers)
}

func TestProcessDigest_RejectsGet(t *testing.T) {
	h := newTestServer(&fakeRunner{}, newMemStore()).Routes()
	rec, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/process-digest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSendTest_RequiresAdmin(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(runner, newMemStore()).Routes()

	rec, _ := do(t, h, httptest.NewRequest(http.MethodPost, "/send-test", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/send-test", nil)
	req.SetBasicAuth("admin", "wrong")
	rec, _ = do(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.triggers)
}

func TestSendTest_ReportsOutcomeAndRateLimits(t *testing.T) {
	runner := &fakeRunner{report: processor.Report{RunID: "run-1", Recipients: 2}}
	h := newTestServer(runner, newMemStore()).Routes()

	req := httptest.NewRequest(http.MethodPost, "/send-test", nil)
	req.SetBasicAuth("admin", "secret")
	rec, body := do(t, h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "Test email sent to 2 subscribers!", body["message"])
	assert.Equal(t, float64(2), body["recipients"])
	assert.Equal(t, []processor.Trigger{processor.TriggerManual}, runner.triggers)

	req = httptest.NewRequest(http.MethodPost, "/send-test", nil)
	req.SetBasicAuth("admin", "secret")
	rec, body = do(t, h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Len(t, runner.triggers, 1)
}

func TestSendTest_AbortedRun(t *testing.T) {
	runner := &fakeRunner{report: processor.Report{Err: processor.ErrNoSubscribers}}
	h := NewServer(runner, newMemStore(), Options{AdminUsername: "admin", AdminPassword: "secret"}).Routes()

	req := httptest.NewRequest(http.MethodPost, "/send-test", nil)
	req.SetBasicAuth("admin", "secret")
	rec, body := do(t, h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "No subscribers found.", body["message"])
}

func TestAdmin_NotConfigured(t *testing.T) {
	h := NewServer(&fakeRunner{}, newMemStore(), Options{SchedulerToken: testSchedulerToken}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/admin/subscribers", nil)
	req.SetBasicAuth("", "")
	rec, body := do(t, h, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Admin credentials are not configured on the server.", body["message"])
}

func TestAdmin_ListAndReactivate(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	for _, e := range []string{"a@x.com", "b@x.com"} {
		_, err := store.AddOrReactivate(ctx, e)
		require.NoError(t, err)
	}
	require.NoError(t, store.Deactivate(ctx, "b@x.com"))

	h := newTestServer(&fakeRunner{}, store).Routes()

	req := httptest.NewRequest(http.MethodGet, "/admin/subscribers", nil)
	req.SetBasicAuth("admin", "secret")
	rec, body := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"a@x.com"}, body["subscribers"])
	assert.Equal(t, []any{"b@x.com"}, body["inactive_subscribers"])
	assert.Equal(t, float64(1), body["count"])

	req = formRequest("/admin/reactivate", "b@x.com")
	req.SetBasicAuth("admin", "secret")
	rec, body = do(t, h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reactivated", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeRunner{}, newMemStore()).Routes()
	do(t, h, formRequest("/subscribe", "metrics@x.com"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rfd_digest_subscribe_requests_total")
}
