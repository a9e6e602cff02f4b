package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"transfer-ledger/pkg/ledger"
	"transfer-ledger/pkg/store"

	"go.uber.org/zap"
)

var errNotNumber = errors.New("amount must be a number")

// handleTransfer handles POST /transfer.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var body transferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	req, err := body.toLedger()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := s.ledger.Transfer(r.Context(), req)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newTransferResponse(result))
}

// writeTransferError maps engine errors onto status codes. Client errors are 400,
// timeouts and an unavailable store are 503 with Retry-After, the rest is 500.
func (s *Server) writeTransferError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, ledger.PublicMessage(err))
	case errors.Is(err, ledger.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		s.retryAfter(w)
		writeError(w, http.StatusServiceUnavailable, "transaction timeout, retry later")
	case errors.Is(err, store.ErrUnavailable):
		s.retryAfter(w)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) retryAfter(w http.ResponseWriter) {
	if s.config.RetryAfter <= 0 {
		return
	}
	secs := int(s.config.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// handleState handles GET /debug/state?limit=N.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	state, err := s.ledger.State(r.Context(), limit)
	if err != nil {
		s.logger.Error("state read failed", zap.Error(err))
		if errors.Is(err, store.ErrUnavailable) {
			s.retryAfter(w)
			writeError(w, http.StatusServiceUnavailable, "service unavailable, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, newStateResponse(state))
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
