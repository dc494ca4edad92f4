package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/registry"
	"github.com/itsneelabh/ordregistry/scheduler"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	ID        string `json:"id,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string                         `json:"status"`
	Ready      bool                           `json:"ready"`
	Generation uint64                         `json:"generation"`
	BuiltAt    *time.Time                     `json:"builtAt,omitempty"`
	Degraded   []string                       `json:"degraded"`
	Breakers   map[string]string              `json:"breakers"`
	Tasks      map[string]scheduler.TaskStats `json:"tasks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "starting",
		Degraded: []string{},
		Breakers: s.engine.BreakerStates(),
	}
	if snap := s.engine.Snapshot(); snap != nil {
		resp.Ready = true
		resp.Status = "healthy"
		resp.Generation = snap.Generation
		built := snap.BuiltAt
		resp.BuiltAt = &built
		if len(snap.Degraded) > 0 {
			resp.Status = "degraded"
			resp.Degraded = snap.Degraded
		}
	}
	for _, state := range resp.Breakers {
		if state == "open" && resp.Ready {
			resp.Status = "degraded"
		}
	}
	if s.scheduler != nil {
		resp.Tasks = s.scheduler.Stats()
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var q registry.Query
	if err := decodeBody(w, r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.discover(w, r, q)
}

// handleDiscoverGet reads filters from the query string. Every value is a
// string; numeric and boolean filters are parsed by the engine.
func (s *Server) handleDiscoverGet(w http.ResponseWriter, r *http.Request) {
	q := registry.Query{
		Type:    registry.DiscoveryType(chi.URLParam(r, "type")),
		Filters: map[string]interface{}{},
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			q.Filters[key] = values[len(values)-1]
		}
	}
	s.discover(w, r, q)
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request, q registry.Query) {
	resp, err := s.engine.Discover(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidateAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ValidateAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleValidateOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.engine.Validate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.engine.LastReport()
	if report == nil {
		s.writeError(w, r, fmt.Errorf("no compliance report yet: %w", core.ErrResourceNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// RegisterResponse acknowledges a registration.
type RegisterResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in core.Resource
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res := registration(&in)
	if err := s.engine.Register(r.Context(), res); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, RegisterResponse{ID: res.ID, Success: true})
}

// registration keeps only the upstream fields of a submitted resource;
// derived fields are owned by the registry.
func registration(in *core.Resource) *core.Resource {
	return &core.Resource{
		ID:           in.ID,
		Kind:         in.Kind,
		Name:         in.Name,
		Path:         in.Path,
		Capabilities: in.Capabilities,
		Dependencies: in.Dependencies,
		Compliance:   in.Compliance,
		Status:       in.Status,
		LastSeenAt:   in.LastSeenAt,
	}
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Rebuild(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Generation,
		"builtAt":    snap.BuiltAt,
		"resources":  snap.Len(),
		"degraded":   snap.Degraded,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &requestError{err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// requestError marks a malformed request.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// statusFor maps registry errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrCacheNotBuilt):
		return http.StatusServiceUnavailable
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrCircuitOpen), errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	var regErr *core.RegistryError
	if errors.As(err, &regErr) {
		resp.Kind = regErr.Kind
		resp.ID = regErr.ID
	}
	s.writeJSON(w, statusFor(err), resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"operation": "http_response",
			"error":     err.Error(),
		})
	}
}
