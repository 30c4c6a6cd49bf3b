package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goaltrack/goals"
	"goaltrack/internal/logger"
	"goaltrack/internal/metrics"
)

// Server is the HTTP edge over the evaluation engine: event ingestion,
// manual refresh, what-if simulation, goal status, and rule management.
type Server struct {
	db     *sql.DB
	rules  goals.RuleStore
	events goals.EventStore
	engine *goals.Engine
	router *chi.Mux
	log    *slog.Logger
}

// NewServer wires a server over the given stores. db may be nil (tests run
// against in-memory stores); it is only used by the health check.
func NewServer(db *sql.DB, rules goals.RuleStore, events goals.EventStore, evals goals.EvaluationStore, impacts goals.ImpactStore, log *slog.Logger) (*Server, error) {
	engine, err := goals.NewEngine(rules, events, evals, impacts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	engine.SetLogger(log)

	s := &Server{
		db:     db,
		rules:  rules,
		events: events,
		engine: engine,
		log:    log,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(httprate.LimitByIP(300, time.Minute))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/events", s.handleIngestEvent)
	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Post("/api/v1/what-if", s.handleWhatIf)
	r.Get("/api/v1/goals/status", s.handleStatus)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleIngestEvent accepts one normalized event and runs an evaluation
// pass with it as the trigger, so its audit trail lands in the same call.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event", err)
		return
	}
	ev.ID = uuid.NewString()

	if err := s.events.Add(r.Context(), ev); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store event", err)
		return
	}
	metrics.EventsIngested.Inc()

	batch, err := s.engine.Evaluate(r.Context(), ev.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, IngestResponse{
		Event:       ev,
		Evaluations: batch.Evaluations,
		Impacts:     batch.Impacts,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	batch, err := s.engine.Evaluate(r.Context(), req.TriggerEventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, batch)
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	var req WhatIfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	hypothetical := make([]*goals.NormalizedEvent, 0, len(req.HypotheticalEvents))
	for _, er := range req.HypotheticalEvents {
		ev, err := er.toEvent()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid hypothetical event", err)
			return
		}
		hypothetical = append(hypothetical, ev)
	}

	sim, err := s.engine.Simulate(r.Context(), hypothetical)
	if errors.Is(err, goals.ErrNoHypotheticalEvents) {
		respondError(w, http.StatusBadRequest, "hypothetical_events must not be empty", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "simulation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, sim)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.engine.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to fetch status", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"goals": statuses})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := req.toRule()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	rule.ID = uuid.NewString()

	if err := s.engine.CheckRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule config", err)
		return
	}
	if err := s.rules.Add(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	s.engine.InvalidateRules()

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rules == nil {
		rules = []*goals.GoalRule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(r.Context(), chi.URLParam(r, "ruleId"))
	if errors.Is(err, goals.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := req.toRule()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")

	if err := s.engine.CheckRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule config", err)
		return
	}
	err = s.rules.Update(r.Context(), rule)
	if errors.Is(err, goals.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}
	s.engine.InvalidateRules()

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	err := s.rules.Delete(r.Context(), chi.URLParam(r, "ruleId"))
	if errors.Is(err, goals.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	s.engine.InvalidateRules()

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	_ = godotenv.Load()
	log := logger.Setup("goaltrack")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	server, err := NewServer(db,
		goals.NewPostgresRuleStore(db),
		goals.NewPostgresEventStore(db),
		goals.NewPostgresEvaluationStore(db),
		goals.NewPostgresImpactStore(db),
		log,
	)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	_ = logger.Shutdown(ctx)
	log.Info("server stopped")
}
