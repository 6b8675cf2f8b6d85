package approval

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler manages approval endpoints.
type Handler struct {
	logger   *slog.Logger
	gate     *Gate
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, gate *Gate) *Handler {
	return &Handler{logger: logger, gate: gate, validate: validator.New()}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pending", h.listPending)
	r.Post("/{id}/decide", h.decide)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	approverID, _ := strconv.ParseInt(r.URL.Query().Get("approver_id"), 10, 64)
	requests, err := h.gate.PendingRequests(r.Context(), approverID)
	if err != nil {
		h.logger.Error("list pending approvals", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

type decideRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=APPROVED REJECTED"`
	Note    string `json:"note"`
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req decideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	request, err := h.gate.Decide(r.Context(), id, actor, Outcome(req.Outcome), req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Request Not Found", err.Error())
		case errors.Is(err, ErrAlreadyDecided):
			httpx.Problem(w, http.StatusConflict, "Already Decided", err.Error())
		case errors.Is(err, ErrInvalidOutcome):
			httpx.Problem(w, http.StatusBadRequest, "Invalid Outcome", err.Error())
		default:
			h.logger.Error("decide approval", slog.Any("error", err), slog.Int64("id", id))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, request)
}
