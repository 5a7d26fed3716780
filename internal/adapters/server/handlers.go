package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-json-experiment/json"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

type queryRequest struct {
	Question string          `json:"question"`
	History  []ports.Message `json:"history,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

type schemaBody struct {
	SQL     string                `json:"sql"`
	NoSQL   string                `json:"nosql"`
	Context *domain.SchemaContext `json:"context"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	var (
		resp *domain.FinalResponse
		err  error
	)
	if len(req.History) > 0 {
		resp, err = s.deps.Service.RunWithHistory(r.Context(), req.Question, req.History)
	} else {
		resp, err = s.deps.Service.Run(r.Context(), req.Question)
	}
	if err != nil {
		if resp == nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, statusFor(err), resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	plan, err := s.deps.Service.Analyze(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.deps.Service.Schema(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schemaBody{SQL: sc.SQLText(), NoSQL: sc.NoSQLText(), Context: sc})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeJSON(w, http.StatusOK, []ports.RunSummary{})
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.deps.Runs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []ports.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, domain.ErrRunNotFound)
		return
	}
	resp, err := s.deps.Runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error().Err(err).Msg("failed to write healthz response")
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.log.Debug().Err(err).Msg("readyz: not ready")
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := fmt.Fprintf(w, "not ready: %v\n", err); err != nil {
				s.log.Error().Err(err).Msg("failed to write readyz response")
			}
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error().Err(err).Msg("failed to write readyz response")
	}
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.UnmarshalRead(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return req, false
	}
	return req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, v, json.Deterministic(true)); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuestion), errors.Is(err, domain.ErrInvalidQuerySpec):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLLMFailed), errors.Is(err, domain.ErrInvalidLLMResponse):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrConnectorUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
