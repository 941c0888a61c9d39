package httputil

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/contextkeys"
	"github.com/platinummonkey/agora/pkg/observability"
)

// ProblemContentType is the media type of problem detail bodies
const ProblemContentType = "application/problem+json"

// Problem is an RFC 7807 problem detail body
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"traceId"`
	Code      string `json:"code"`
}

// ProblemWriter renders errors as problem details.
type ProblemWriter struct {
	// BaseURL prefixes the problem type, e.g. https://api.example.com
	BaseURL string
	// LegacyRateLimitStatus reports rate limiting as 403 instead of 429
	LegacyRateLimitStatus bool

	now func() time.Time
}

// NewProblemWriter creates a problem writer
func NewProblemWriter(baseURL string, legacyRateLimitStatus bool) *ProblemWriter {
	return &ProblemWriter{
		BaseURL:               strings.TrimRight(baseURL, "/"),
		LegacyRateLimitStatus: legacyRateLimitStatus,
		now:                   time.Now,
	}
}

// Problem builds the body for err. Errors outside the taxonomy become
// INTERNAL_ERROR with a generic detail so internals never leak.
func (pw *ProblemWriter) Problem(r *http.Request, err error) Problem {
	code := apperrors.CodeInternal
	detail := "An unexpected error occurred"
	if appErr, ok := apperrors.As(err); ok {
		code = appErr.Code
		if appErr.Message != "" && code != apperrors.CodeInternal && code != apperrors.CodeIllegalState {
			detail = appErr.Message
		}
	}

	status := code.Status()
	if code == apperrors.CodeRateLimitExceeded && pw.LegacyRateLimitStatus {
		status = http.StatusForbidden
	}

	traceID := contextkeys.GetRequestID(r.Context())
	if _, perr := uuid.Parse(traceID); perr != nil {
		traceID = uuid.NewString()
	}

	now := time.Now
	if pw.now != nil {
		now = pw.now
	}

	return Problem{
		Type:      pw.BaseURL + "/errors/" + code.Slug(),
		Title:     code.Title(),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Timestamp: now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
		Code:      string(code),
	}
}

// Write renders err on w. Server side failures are logged with their cause.
func (pw *ProblemWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	p := pw.Problem(r, err)
	if p.Status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("code", p.Code).
			WithField("path", p.Instance).
			Error("Request failed")
	}

	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}
