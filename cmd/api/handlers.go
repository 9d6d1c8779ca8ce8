package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/marketlens/marketlens/pkg/errs"
	"github.com/marketlens/marketlens/pkg/logger"
	"github.com/marketlens/marketlens/pkg/marketdata"
	"github.com/marketlens/marketlens/pkg/validation"
)

// Server exposes the market data service over the REST API.
type Server struct {
	svc *marketdata.Service
}

func NewServer(svc *marketdata.Service) *Server {
	return &Server{svc: svc}
}

// Routes builds the router with the standard middleware chain.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Route("/stocks", func(r chi.Router) {
		r.Get("/search/{query}", s.searchHandler)
		r.Get("/quote/{symbol}", s.quoteHandler)
		r.Get("/profile/{symbol}", s.profileHandler)
		r.Post("/batch-quotes", s.batchQuotesHandler)
		r.Get("/health", s.healthHandler)
		r.Get("/stats", s.statsHandler)
		r.Delete("/cache", s.clearCacheHandler)
	})
	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error("JSON encoding error", zap.Error(err))
	}
}

// writeError maps a service error onto the stable {success, code, message}
// envelope the front end keys its copy off.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, errs.HTTPStatus(err), map[string]interface{}{
		"success": false,
		"code":    errs.CodeOf(err),
		"message": errMessage(err),
	})
}

// errMessage strips the wrapping detail so clients see one clean sentence.
func errMessage(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SearchStocks(r.Context(), chi.URLParam(r, "query"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": res.Entries,
		"metadata": map[string]interface{}{
			"count":  len(res.Entries),
			"source": res.Source,
		},
	})
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"symbol":  q.Symbol,
		"quote":   q,
		"metadata": map[string]interface{}{
			"source": q.Source,
		},
	})
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetCompanyProfile(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"symbol":  p.Symbol,
		"profile": p,
		"metadata": map[string]interface{}{
			"source": p.Source,
		},
	})
}

type batchRequest struct {
	Symbols []string `json:"symbols" validate:"required"`
}

func (s *Server) batchQuotesHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.InvalidInput("request body must be JSON with a symbols array"))
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.svc.GetBatchQuotes(r.Context(), req.Symbols)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": res.Results,
		"errors":  res.Errors,
		"metadata": map[string]interface{}{
			"requested": len(req.Symbols),
			"succeeded": len(res.Results),
			"failed":    len(res.Errors),
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := s.svc.HealthCheck(r.Context())
	st := s.svc.Stats()

	status := http.StatusOK
	if h.Status != marketdata.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status": h.Status,
		"api": map[string]interface{}{
			"probeSymbol":    h.ProbeSymbol,
			"probeOk":        h.ProbeOK,
			"probeLatencyMs": h.ProbeLatencyMs,
			"providers":      h.Providers,
		},
		"stats": map[string]interface{}{
			"cacheSize":           h.CacheSize,
			"queueDepth":          h.QueueDepth,
			"consecutiveFailures": h.ConsecutiveFailures,
		},
		"limits": st.Limits,
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   s.svc.Stats(),
	})
}

func (s *Server) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	cleared := s.svc.ClearCache(r.Context(), pattern)
	logger.Log.Info("cache cleared", zap.String("pattern", pattern), zap.Int("cleared", cleared))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"cleared": cleared,
	})
}
