package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/sluice/pkg/limits"
	"mercator-hq/sluice/pkg/limits/quota"
	"mercator-hq/sluice/pkg/telemetry/logging"
)

// maxBodyBytes bounds JSON request bodies on the admin API.
const maxBodyBytes = 1 << 20

// CheckResponse is the body of POST /v1/admission/check.
type CheckResponse struct {
	Admitted          bool    `json:"admitted"`
	Reason            string  `json:"reason,omitempty"`
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	RetryAfterMS      float64 `json:"retry_after_ms,omitempty"`
}

// OutcomeRequest is the body of POST /v1/admission/outcome.
type OutcomeRequest struct {
	Resource string `json:"resource"`
	Success  bool   `json:"success"`
}

// CostRequest is the body of POST /v1/admission/cost.
type CostRequest struct {
	Resource     string `json:"resource"`
	CallerID     string `json:"caller_id,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// CostResponse is the reply to POST /v1/admission/cost.
type CostResponse struct {
	CostUSD float64 `json:"cost_usd"`
}

// ResetResponse is the reply to POST /v1/admin/reset.
type ResetResponse struct {
	Reset     bool      `json:"reset"`
	Timestamp time.Time `json:"timestamp"`
}

// QuotaListResponse is the reply to GET /v1/quotas.
type QuotaListResponse struct {
	Quotas []limits.QuotaStatus `json:"quotas"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Stats())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.coord.ResetStats()
	s.logger.InfoContext(r.Context(), "statistics reset via admin API")
	writeJSON(w, http.StatusOK, ResetResponse{Reset: true, Timestamp: time.Now().UTC()})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req limits.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Resource == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "resource is required")
		return
	}
	if req.EstimatedTokens < 0 {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "estimated_tokens cannot be negative")
		return
	}
	priority, err := limits.ParsePriority(string(req.Priority))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	req.Priority = priority

	ctx := logging.WithResource(r.Context(), req.Resource)
	if req.CallerID != "" {
		ctx = logging.WithCaller(ctx, req.CallerID)
	}

	outcome := s.coord.CheckAdmission(ctx, req)
	resp := CheckResponse{Admitted: outcome.Admitted}
	if !outcome.Admitted {
		resp.Reason = string(outcome.Reason)
		resp.RetryAfterSeconds = outcome.RetryAfterSeconds()
		resp.RetryAfterMS = float64(outcome.RetryAfter) / float64(time.Millisecond)

		if resp.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		w.Header().Set(ThrottleReasonHeader, resp.Reason)
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Resource == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "resource is required")
		return
	}
	s.coord.ReportOutcome(req.Resource, req.Success)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	var req CostRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Resource == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "resource is required")
		return
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "token counts cannot be negative")
		return
	}
	cost := s.coord.RecordCost(r.Context(), req.Resource, req.CallerID, req.InputTokens, req.OutputTokens)
	writeJSON(w, http.StatusOK, CostResponse{CostUSD: cost})
}

func (s *Server) handleListQuotas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, QuotaListResponse{Quotas: s.coord.Quotas()})
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Quota(r.PathValue("caller")))
}

func (s *Server) handlePutQuota(w http.ResponseWriter, r *http.Request) {
	caller := r.PathValue("caller")

	var l quota.Limits
	if !decodeBody(w, r, &l) {
		return
	}
	if l.DailyRequests < 0 || l.DailyTokens < 0 || l.DailyCost < 0 {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "quota limits cannot be negative")
		return
	}

	if err := s.coord.SetQuota(r.Context(), caller, l); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to set quota",
			"caller", caller,
			"error", err,
		)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Quota(caller))
}

func (s *Server) handleDeleteQuota(w http.ResponseWriter, r *http.Request) {
	caller := r.PathValue("caller")
	if err := s.coord.DeleteQuota(r.Context(), caller); err != nil {
		if !errors.Is(err, limits.ErrQuotaNotFound) {
			s.logger.ErrorContext(r.Context(), "failed to delete quota",
				"caller", caller,
				"error", err,
			)
		}
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads one JSON document into v, replying 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
