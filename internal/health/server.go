package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SQSInvoker processes an SQS event the way the Lambda runtime would.
type SQSInvoker func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error)

// KinesisInvoker processes a Kinesis event the way the Lambda runtime would.
type KinesisInvoker func(ctx context.Context, ev events.KinesisEvent) (events.KinesisEventResponse, error)

// Server provides health, metrics and local invocation endpoints.
type Server struct {
	monitor *Monitor
	server  *http.Server
	sqs     SQSInvoker
	kinesis KinesisInvoker
}

// NewServer creates a new server. Nil invokers disable their endpoint.
func NewServer(monitor *Monitor, port int, sqs SQSInvoker, kinesis KinesisInvoker) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		sqs:     sqs,
		kinesis: kinesis,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /invoke/sqs", s.handleInvokeSQS)
	mux.HandleFunc("POST /invoke/kinesis", s.handleInvokeKinesis)

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.SystemStatus)}
	if report.SystemStatus == StatusCritical {
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleInvokeSQS(w http.ResponseWriter, r *http.Request) {
	if s.sqs == nil {
		http.Error(w, "sqs trigger not configured", http.StatusNotFound)
		return
	}
	var ev events.SQSEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, fmt.Sprintf("invalid sqs event: %v", err), http.StatusBadRequest)
		return
	}
	resp, err := s.sqs(r.Context(), ev)
	if err != nil {
		slog.Error("Local sqs invocation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvokeKinesis(w http.ResponseWriter, r *http.Request) {
	if s.kinesis == nil {
		http.Error(w, "kinesis trigger not configured", http.StatusNotFound)
		return
	}
	var ev events.KinesisEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, fmt.Sprintf("invalid kinesis event: %v", err), http.StatusBadRequest)
		return
	}
	resp, err := s.kinesis(r.Context(), ev)
	if err != nil {
		slog.Error("Local kinesis invocation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
