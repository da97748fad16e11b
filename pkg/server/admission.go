package server

import (
	"net/http"
	"strconv"

	"mercator-hq/sluice/pkg/limits"
)

// Headers read by HeaderExtractor and written on denial.
const (
	ResourceHeader        = "X-Sluice-Resource"
	CallerHeader          = "X-Caller-ID"
	PriorityHeader        = "X-Priority"
	EstimatedTokensHeader = "X-Estimated-Tokens"
	ThrottleReasonHeader  = "X-Throttle-Reason"
)

// RequestExtractor maps an incoming HTTP request to an admission request.
type RequestExtractor func(r *http.Request) limits.Request

// HeaderExtractor reads the admission request from X-Sluice-Resource,
// X-Caller-ID, X-Priority and X-Estimated-Tokens. A missing resource header
// falls back to the URL path. Priority names are lowercased; malformed token
// estimates count as zero.
func HeaderExtractor(r *http.Request) limits.Request {
	req := limits.Request{
		Resource: r.Header.Get(ResourceHeader),
		CallerID: r.Header.Get(CallerHeader),
		Priority: limits.Priority(r.Header.Get(PriorityHeader)),
	}
	if req.Resource == "" {
		req.Resource = r.URL.Path
	}
	if req.Priority != "" {
		if p, err := limits.ParsePriority(string(req.Priority)); err == nil {
			req.Priority = p
		}
	}
	if v := r.Header.Get(EstimatedTokensHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.EstimatedTokens = n
		}
	}
	return req
}

// AdmissionMiddleware runs every request through the coordinator before it
// reaches next. Denied requests get a 429 with Retry-After and
// X-Throttle-Reason. Admitted requests hold a concurrency slot until next
// returns; a 5xx response counts as a failure for the circuit breaker and a
// request abandoned by its client counts as nothing.
func AdmissionMiddleware(coord *limits.Coordinator, extract RequestExtractor) Middleware {
	if extract == nil {
		extract = HeaderExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := extract(r)

			guard, outcome := coord.Admit(r.Context(), req)
			if !outcome.Admitted {
				writeDenial(w, req.Resource, outcome)
				return
			}
			defer guard.Release()

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			switch {
			case r.Context().Err() != nil:
				guard.Finish(r.Context().Err())
			case rw.statusCode >= http.StatusInternalServerError:
				guard.Failure()
			default:
				guard.Success()
			}
		})
	}
}

func writeDenial(w http.ResponseWriter, resource string, outcome limits.Outcome) {
	if secs := outcome.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set(ThrottleReasonHeader, string(outcome.Reason))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: ErrorDetail{
		Message: outcome.Err(resource).Error(),
		Type:    ErrorTypeRateLimitExceeded,
		Code:    string(outcome.Reason),
	}})
}
