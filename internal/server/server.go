// Package server 提供 HTTP/WebSocket 接口：计算、证明、查询记录、实时推送。
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"volatility-prover/infrastructure/logger"
	"volatility-prover/infrastructure/monitor"
	"volatility-prover/internal/engine"
	"volatility-prover/internal/store"
	"volatility-prover/market"
	"volatility-prover/prover"
)

// Server wires the engine, store and hub into a chi router.
type Server struct {
	Engine  *engine.Engine
	Store   store.Store
	Monitor *monitor.Monitor
	Hub     *Hub
	Log     *logger.Logger
}

// Request body of the compute and prove endpoints.
type computeRequest struct {
	ID      string              `json:"id,omitempty"`
	Source  string              `json:"source,omitempty"`
	Samples []market.TickSample `json:"samples"`
}

type computeResponse struct {
	Record               *store.Record    `json:"record"`
	Reference            string           `json:"reference"`
	Optimized            string           `json:"optimized"`
	Circuit              string           `json:"circuit"`
	ReferenceVsOptimized uint64           `json:"referenceVsOptimized"`
	Artifact             *prover.Artifact `json:"artifact,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "rvprover"})
	})
	if s.Monitor != nil {
		r.Handle("/metrics", s.Monitor.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.Hub != nil {
			r.Get("/ws", s.Hub.HandleWS)
		}
		r.With(middleware.Timeout(2*time.Minute)).Post("/volatility", s.compute(false))
		r.With(middleware.Timeout(10*time.Minute)).Post("/prove", s.compute(true))
		r.Get("/records", s.listRecords)
		r.Get("/records/{id}", s.getRecord)
	})
	return r
}

func (s *Server) compute(prove bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body computeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Class: "invalid_input"})
			return
		}
		req := engine.Request{ID: body.ID, Source: body.Source, Samples: body.Samples}
		if req.Source == "" {
			req.Source = "api"
		}

		run := s.Engine.Compute
		if prove {
			run = s.Engine.Prove
		}
		out, err := run(r.Context(), req)
		if err != nil {
			class := engine.Classify(err)
			writeJSON(w, statusFor(class), errorResponse{Error: err.Error(), Class: class})
			return
		}
		writeJSON(w, http.StatusOK, computeResponse{
			Record:               out.Record,
			Reference:            out.Report.Reference.Value.String(),
			Optimized:            out.Report.Optimized.Value.String(),
			Circuit:              out.Report.Circuit.Value.String(),
			ReferenceVsOptimized: out.Report.ReferenceVsOptimized,
			Artifact:             out.Artifact,
		})
	}
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Class: "not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Class: "error"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Class: "invalid_input"})
			return
		}
		limit = n
	}
	recs, err := s.Store.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Class: "error"})
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())),
		)
	})
}

func statusFor(class string) int {
	switch class {
	case "invalid_input":
		return http.StatusBadRequest
	case "overflow", "divergence":
		return http.StatusUnprocessableEntity
	case "backend":
		return http.StatusBadGateway
	case "canceled":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
