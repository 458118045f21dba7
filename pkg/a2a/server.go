package a2a

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxEnvelopeBytes = 1 << 20

// Handler serves the bus over HTTP. POST a request envelope and receive
// the response envelope.
type Handler struct {
	bus *Bus
}

func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message body")
		return
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	resp, err := h.bus.Send(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrUnknownAgent):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		slog.Error("A2A delivery failed", "recipient", req.Recipient, "error", err)
		writeError(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// StatsHandler serves the bus stats as JSON.
func (h *Handler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.bus.Stats())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
