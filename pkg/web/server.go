package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ritzau/hardy-cross/pkg/hardycross"
	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/network"
	"github.com/ritzau/hardy-cross/pkg/pubsub"
	"github.com/ritzau/hardy-cross/pkg/resistance"
	"github.com/ritzau/hardy-cross/pkg/solver"
)

// maxBodyBytes caps the size of a network posted to the API
const maxBodyBytes = 8 << 20

// errBadRequest classifies bodies that are not a network at all
var errBadRequest = errors.New("malformed request body")

// Options configures the server
type Options struct {
	Solver      hardycross.Options // Convergence defaults for requests without their own
	Method      solver.Method      // Method for requests that do not name one
	CORSOrigins []string
}

// ErrorBody is the JSON body of every failed request
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// SolutionSnapshot is the latest watch-mode solution
type SolutionSnapshot struct {
	File      string           `json:"file"`
	UpdatedAt time.Time        `json:"updated_at"`
	Solution  *solver.Response `json:"solution"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	handler   http.Handler
	publisher pubsub.Publisher
	opts      Options

	mu       sync.RWMutex
	snapshot *SolutionSnapshot
}

// NewServer creates a new web server
func NewServer(opts Options) *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// solve_status: keep the last few steps, replay only the current state
	ssePublisher.ConfigureTopic(pubsub.TopicSolveStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false,
	})
	// solution: only the latest solution matters
	ssePublisher.ConfigureTopic(pubsub.TopicSolution, pubsub.TopicConfig{
		BufferSize: 1,
		ReplayAll:  false,
	})

	if opts.Method == "" {
		opts.Method = solver.MethodDarcy
	}

	s := &Server{
		router:    mux.NewRouter(),
		publisher: ssePublisher,
		opts:      opts,
	}
	s.setupRoutes()
	s.handler = s.wrap(s.router)
	return s
}

func (s *Server) setupRoutes() {
	jsonBody := func(h http.HandlerFunc) http.Handler {
		return handlers.ContentTypeHandler(h, "application/json")
	}

	s.router.Handle("/api/solve", jsonBody(s.handleSolve)).Methods(http.MethodPost)
	s.router.Handle("/api/initialize", jsonBody(s.handleInitialize)).Methods(http.MethodPost)
	s.router.Handle("/solve", jsonBody(s.handleSolve)).Methods(http.MethodPost) // Legacy path kept for existing clients
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/solution", s.handleSolution).Methods(http.MethodGet)

	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/"+pubsub.TopicSolveStatus, s.handleSubscribe(pubsub.TopicSolveStatus)).Methods(http.MethodGet)
	s.router.HandleFunc("/api/subscribe/"+pubsub.TopicSolution, s.handleSubscribe(pubsub.TopicSolution)).Methods(http.MethodGet)
}

// wrap applies panic recovery, request ids and CORS around the router
func (s *Server) wrap(h http.Handler) http.Handler {
	h = handlers.CORS(
		handlers.AllowedOrigins(s.opts.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", logging.RequestIDHeader}),
		handlers.ExposedHeaders([]string{logging.RequestIDHeader}),
	)(h)
	h = logging.RequestIDMiddleware(h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(h)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// PublishSolveStatus publishes a solve_status event
func (s *Server) PublishSolveStatus(status pubsub.SolveStatus) error {
	return s.publisher.Publish(pubsub.TopicSolveStatus, status.State, status)
}

// SetSolution stores the latest solution of a watched file and publishes it
func (s *Server) SetSolution(file string, resp *solver.Response) error {
	snapshot := &SolutionSnapshot{File: file, UpdatedAt: time.Now(), Solution: resp}

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()

	return s.publisher.Publish(pubsub.TopicSolution, "solved", snapshot)
}

// Solution returns the latest stored solution, if any
func (s *Server) Solution() (*SolutionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.snapshot != nil
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (solver.Request, error) {
	var req solver.Request
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if req.Method == "" {
		req.Method = s.opts.Method
	}
	return req, nil
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := solver.Solve(r.Context(), req, s.opts.Solver)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := solver.Initialize(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleHealth reports liveness and, in watch mode, the last solve status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if event, ok := s.publisher.Latest(pubsub.TopicSolveStatus); ok {
		body["solve_status"] = event.Data
	}
	writeJSON(w, r, http.StatusOK, body)
}

func (s *Server) handleSolution(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.Solution()
	if !ok {
		writeJSON(w, r, http.StatusNotFound, ErrorBody{
			Error:     "not_found",
			Message:   "no network has been solved yet",
			RequestID: logging.GetRequestID(r.Context()),
		})
		return
	}
	writeJSON(w, r, http.StatusOK, snapshot)
}

// handleSubscribe streams one topic as Server-Sent Events until the client leaves
func (s *Server) handleSubscribe(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sub, err := s.publisher.Subscribe(ctx, topic)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Initial comment establishes the stream (Safari compatibility)
		fmt.Fprint(w, ": connected\n\n")
		flush(w)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := pubsub.WriteSSE(w, event); err != nil {
					logging.WarnContext(ctx, "failed to write SSE event", "topic", topic, "error", err)
					return
				}
				flush(w)
			}
		}
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// classify maps an error to its HTTP status and error code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, solver.ErrUnknownMethod):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, network.ErrTopology):
		return http.StatusBadRequest, "invalid_network"
	case errors.Is(err, resistance.ErrInsufficientData):
		return http.StatusBadRequest, "insufficient_data"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "solve failed", "error", err)
	}
	writeJSON(w, r, status, ErrorBody{
		Error:     code,
		Message:   err.Error(),
		RequestID: logging.GetRequestID(r.Context()),
	})
}

// writeJSON encodes v before committing the status so that an encoding
// failure can still be reported as a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.ErrorContext(r.Context(), "failed to encode response", "error", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(ErrorBody{
			Error:     "internal",
			Message:   fmt.Sprintf("failed to encode response: %v", err),
			RequestID: logging.GetRequestID(r.Context()),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		logging.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}

// recoveryLogger routes recovered panics into the structured log
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logging.Error("handler panic", "panic", fmt.Sprint(v...))
}

// Start serves on the given port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	// Closing the publisher ends open SSE streams so Shutdown can drain
	s.publisher.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	logging.Info("web server stopped")
	return nil
}
