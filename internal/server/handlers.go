package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"subsurface/internal/observability"
	"subsurface/internal/platform"
)

// maxQueryBodyBytes caps POST /api/query bodies.
const maxQueryBodyBytes = 1 << 20

type queryRequest struct {
	Query *string `json:"query"`
}

type queryResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, platform.InvalidInput("query", decodeError(err)))
		return
	}
	if req.Query == nil {
		s.writeError(w, r, platform.InvalidInput("query", errors.New("query is required")))
		return
	}

	resp, err := s.platform.Query(r.Context(), *req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Response: resp})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.platform.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	res, err := s.platform.CallTool(r.Context(), "list_files", "*")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, platform.InvalidInput("history", fmt.Errorf("limit must be a positive integer, got %q", raw)))
			return
		}
		limit = n
	}

	recs, err := s.platform.RecentQueries(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": recs})
}

func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &maxErr):
		return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
	case errors.As(err, &typeErr):
		return fmt.Errorf("field %q must be a string", typeErr.Field)
	default:
		return fmt.Errorf("invalid JSON body: %v", err)
	}
}

// statusFor maps an error kind onto its HTTP status.
func statusFor(kind platform.Kind) int {
	switch kind {
	case platform.KindInvalidInput:
		return http.StatusBadRequest
	case platform.KindUnavailable:
		return http.StatusServiceUnavailable
	case platform.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := platform.KindOf(err)
	code := statusFor(kind)
	attrs := []any{"path", r.URL.Path, "status", code, "kind", kind.String(), observability.AttrErr(err)}
	if code >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request error", attrs...)
	} else {
		s.log.Info(r.Context(), "request rejected", attrs...)
	}
	writeJSON(w, code, errorResponse{Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
