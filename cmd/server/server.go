package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pauljones0/rfd-deal-digest/internal/metrics"
	"github.com/pauljones0/rfd-deal-digest/internal/models"
	"github.com/pauljones0/rfd-deal-digest/internal/processor"
	"github.com/pauljones0/rfd-deal-digest/internal/storage"
	"github.com/pauljones0/rfd-deal-digest/internal/validator"
)

const runTimeout = 4 * time.Minute

type digestRunner interface {
	Run(ctx context.Context, trigger processor.Trigger) processor.Report
}

// Options holds the credentials and trigger limits of a Server. A zero
// interval disables the matching limiter.
type Options struct {
	AdminUsername  string
	AdminPassword  string
	SchedulerToken string
	ManualEvery    time.Duration
	ScheduledEvery time.Duration
}

type Server struct {
	runner    digestRunner
	store     storage.SubscriberStore
	validator *validator.Validator

	adminUsername    string
	adminPassword    string
	schedulerToken   string
	manualLimiter    *rate.Limiter
	scheduledLimiter *rate.Limiter

	runs sync.WaitGroup
}

func NewServer(runner digestRunner, store storage.SubscriberStore, opts Options) *Server {
	return &Server{
		runner:           runner,
		store:            store,
		validator:        validator.New(),
		adminUsername:    opts.AdminUsername,
		adminPassword:    opts.AdminPassword,
		schedulerToken:   opts.SchedulerToken,
		manualLimiter:    newLimiter(opts.ManualEvery),
		scheduledLimiter: newLimiter(opts.ScheduledEvery),
	}
}

func newLimiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("POST /process-digest", s.requireScheduler(http.HandlerFunc(s.ProcessDigestHandler)))
	mux.HandleFunc("POST /subscribe", s.SubscribeHandler)
	mux.HandleFunc("POST /unsubscribe", s.UnsubscribeHandler)
	mux.Handle("POST /send-test", s.requireAdmin(http.HandlerFunc(s.SendTestHandler)))
	mux.Handle("GET /admin/subscribers", s.requireAdmin(http.HandlerFunc(s.ListSubscribersHandler)))
	mux.Handle("POST /admin/reactivate", s.requireAdmin(http.HandlerFunc(s.ReactivateHandler)))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Wait blocks until every background digest run has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}

// ProcessDigestHandler is the scheduled trigger. The run continues in the
// background so the caller's request timeout does not bound it.
func (s *Server) ProcessDigestHandler(w http.ResponseWriter, r *http.Request) {
	if !s.scheduledLimiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "rate_limited"})
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		report := s.runner.Run(ctx, processor.TriggerScheduled)
		slog.Info("Scheduled digest finished", "run_id", report.RunID, "ok", report.OK(), "message", report.Message())
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// SendTestHandler is the manual trigger; the operator gets the outcome
// inline.
func (s *Server) SendTestHandler(w http.ResponseWriter, r *http.Request) {
	if !s.manualLimiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"ok":      false,
			"message": "A test digest was sent recently. Please wait before sending another.",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	report := s.runner.Run(ctx, processor.TriggerManual)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         report.OK(),
		"message":    report.Message(),
		"recipients": report.Recipients,
		"run_id":     report.RunID,
	})
}

var subscribeMessages = map[models.SubscribeStatus]struct {
	code    int
	message string
}{
	models.StatusNew:           {http.StatusOK, "Successfully subscribed! You'll receive daily deals starting tomorrow."},
	models.StatusReactivated:   {http.StatusOK, "Welcome back! Your subscription has been reactivated."},
	models.StatusAlreadyActive: {http.StatusConflict, "This email is already subscribed."},
	models.StatusError:         {http.StatusInternalServerError, "An error occurred. Please try again."},
}

func (s *Server) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := s.emailFromRequest(w, r)
	if !ok {
		metrics.SubscribeRequests.WithLabelValues("invalid").Inc()
		return
	}
	s.subscribe(w, r, email)
}

func (s *Server) ReactivateHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := s.emailFromRequest(w, r)
	if !ok {
		return
	}
	s.subscribe(w, r, email)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, email string) {
	status, err := s.store.AddOrReactivate(r.Context(), email)
	if err != nil {
		slog.Error("Subscribe failed", "error", err, "exists", errors.Is(err, storage.ErrSubscriberExists))
		status = models.StatusError
	}
	metrics.SubscribeRequests.WithLabelValues(string(status)).Inc()

	resp := subscribeMessages[status]
	writeJSON(w, resp.code, map[string]string{"status": string(status), "message": resp.message})
}

func (s *Server) UnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := s.emailFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.store.Deactivate(r.Context(), email); err != nil {
		slog.Error("Unsubscribe failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "An error occurred. Please try again."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully unsubscribed. You won't receive any more emails."})
}

func (s *Server) ListSubscribersHandler(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ListActive(r.Context())
	if err != nil {
		slog.Error("Failed to list active subscribers", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to load subscribers."})
		return
	}
	inactive, err := s.store.ListInactive(r.Context())
	if err != nil {
		slog.Error("Failed to list inactive subscribers", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to load subscribers."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscribers":          active,
		"inactive_subscribers": inactive,
		"count":                len(active),
	})
}

// emailFromRequest accepts a form field or a JSON body and writes the 400
// response itself when the address is unusable.
func (s *Server) emailFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var email string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Please enter a valid email address."})
			return "", false
		}
		email = body.Email
	} else {
		email = r.FormValue("email")
	}

	email = strings.TrimSpace(email)
	if err := s.validator.ValidateEmail(email); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Please enter a valid email address."})
		return "", false
	}
	return email, true
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.adminConfigured() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "Admin credentials are not configured on the server."})
			return
		}
		if !s.validAdmin(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="rfd-deal-digest"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireScheduler accepts the scheduler's bearer token or the admin
// credentials.
func (s *Server) requireScheduler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.schedulerToken == "" && !s.adminConfigured() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "Scheduler credentials are not configured on the server."})
			return
		}
		if s.validSchedulerToken(r) || s.validAdmin(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="rfd-deal-digest"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid scheduler token."})
	})
}

func (s *Server) validSchedulerToken(r *http.Request) bool {
	if s.schedulerToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.schedulerToken)) == 1
}

func (s *Server) adminConfigured() bool {
	return s.adminUsername != "" && s.adminPassword != ""
}

func (s *Server) validAdmin(r *http.Request) bool {
	if !s.adminConfigured() {
		return false
	}
	user, pass, ok := r.BasicAuth()
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.adminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.adminPassword)) == 1
	return ok && userOK && passOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
