package finnum

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/finsight-ai/pkg/logging"
)

const maxRequestBytes = 1 << 20

// Handler exposes amount extraction over HTTP.
type Handler struct {
	logger *logging.Logger
}

// NewHandler creates a numbers handler.
func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{logger: logger}
}

// ParseRequest is the body of POST /api/numbers/parse.
type ParseRequest struct {
	Text string `json:"text"`
}

// Amount is one extracted value with its compact rendering.
type Amount struct {
	Value     float64 `json:"value"`
	Formatted string  `json:"formatted"`
}

// ParseResponse lists amounts largest first.
type ParseResponse struct {
	Values []Amount `json:"values"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Parse handles POST /api/numbers/parse.
func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode numbers request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: text string is required"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: text string is required"})
		return
	}

	values := Extract(req.Text)
	resp := ParseResponse{Values: make([]Amount, 0, len(values))}
	for _, v := range values {
		resp.Values = append(resp.Values, Amount{Value: v, Formatted: Format(v, true)})
	}
	h.logger.Debug("extracted amounts", "count", len(values))
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
