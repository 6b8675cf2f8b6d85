package audit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-his/meridian-his/internal/platform/httpx"
)

// Handler serves audit trail queries.
type Handler struct {
	logger *slog.Logger
	svc    *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// MountRoutes registers the trail route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{entity}/{id}", h.trail)
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.svc.Trail(r.Context(), entity, id, limit)
	if err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			httpx.Problem(w, http.StatusNotFound, "Unknown Entity", err.Error())
			return
		}
		h.logger.Error("audit trail", slog.Any("error", err), slog.String("entity", entity), slog.Int64("id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
