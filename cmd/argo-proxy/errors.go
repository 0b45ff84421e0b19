package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/argonne-lcf/argoproxy/argo"
	"github.com/argonne-lcf/argoproxy/internal/logging"
	"github.com/argonne-lcf/argoproxy/internal/metrics"
)

// badRequestError marks client-side failures so writeError can map them to
// 400 without string matching.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// writeError maps a pipeline failure onto the wire contract: 400 for bad
// input, the upstream's own status for non-2xx upstream replies, 503 when
// the upstream is unreachable, 500 otherwise. The body is always a flat
// {"error": "<message>"} object.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	var (
		status    int
		msg       string
		badReq    *badRequestError
		statusErr *argo.StatusError
	)
	switch {
	case errors.As(err, &badReq):
		status = http.StatusBadRequest
		msg = badReq.msg
	case errors.As(err, &statusErr):
		status = statusErr.Status
		msg = fmt.Sprintf("Upstream API error: %d %s", statusErr.Status, statusErr.Body)
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
	case errors.Is(err, argo.ErrUnavailable):
		status = http.StatusServiceUnavailable
		msg = fmt.Sprintf("HTTP error occurred: %v", err)
		metrics.UpstreamErrors.WithLabelValues("unavailable").Inc()
	case errors.Is(err, context.Canceled):
		// The client went away; there is nobody left to answer.
		log.Debug("request canceled by client")
		return
	default:
		status = http.StatusInternalServerError
		msg = fmt.Sprintf("An unexpected error occurred: %v", err)
		metrics.UpstreamErrors.WithLabelValues("other").Inc()
	}

	log.Error("request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
