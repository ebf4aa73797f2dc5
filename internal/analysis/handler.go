package analysis

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/finsight-ai/pkg/logging"
)

// maxRequestBytes bounds request bodies; base64 documents are large.
const maxRequestBytes = 20 << 20

// Handler wires HTTP requests to the analysis service.
type Handler struct {
	service Service
	logger  *logging.Logger
}

// NewHandler creates an analysis handler.
func NewHandler(service Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []ChatTurn `json:"messages"`
}

// TextResponse carries a successful completion.
type TextResponse struct {
	Text string `json:"text"`
}

// ErrorResponse carries an invalid-input message or an advisory string.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Analyze handles POST /api/analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode analyze request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request: content string is required"})
		return
	}

	res, err := h.service.AnalyzeDocument(r.Context(), req.Content)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TextResponse{Text: res.Text})
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode chat request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request: messages array is required"})
		return
	}

	res, err := h.service.Chat(r.Context(), req.Messages)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TextResponse{Text: res.Text})
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidInput) {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: Translate(err).Message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
