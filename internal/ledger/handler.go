package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler exposes ledger query endpoints and the top-up entry point.
// Batch receipts never come through here; they arrive via goods-receipt
// materialisation and movement execution.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/availability", h.availability)
	r.Get("/rows", h.listRows)
	r.Get("/rows/{id}", h.getRow)
	r.Get("/expiring", h.expiring)
	r.Post("/top-up", h.topUp)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	product, err := productFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product Reference", err.Error())
		return
	}
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	opts := AvailabilityOpts{
		IncludeExpired: r.URL.Query().Get("include_expired") == "true",
		IncludeZero:    r.URL.Query().Get("include_zero") == "true",
	}
	qty, err := h.service.AvailableQuantity(r.Context(), product, locationID, opts)
	if err != nil {
		h.respondError(w, "availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product":         product.String(),
		"location_id":     locationID,
		"quantity":        qty,
		"include_expired": opts.IncludeExpired,
		"include_zero":    opts.IncludeZero,
	})
}

func (h *Handler) listRows(w http.ResponseWriter, r *http.Request) {
	product, err := productFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product Reference", err.Error())
		return
	}
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	rows, err := h.service.Rows(r.Context(), product, locationID)
	if err != nil {
		h.respondError(w, "list rows", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) getRow(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	row, err := h.service.Row(r.Context(), id)
	if err != nil {
		h.respondError(w, "get row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) expiring(w http.ResponseWriter, r *http.Request) {
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	grouped, err := h.service.ExpiringRows(r.Context(), locationID, time.Now().UTC())
	if err != nil {
		h.respondError(w, "expiring rows", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"expired":       grouped[ExpiryExpired],
		"expiring_soon": grouped[ExpiryExpiringSoon],
	})
}

type topUpRequest struct {
	ProductKind string  `json:"product_kind" validate:"required,oneof=CLINICAL GENERAL"`
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	LocationID  int64   `json:"location_id" validate:"required,gt=0"`
	Qty         float64 `json:"qty" validate:"required,gt=0"`
	Unit        string  `json:"unit"`
}

func (h *Handler) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	row, err := h.service.FirstTimeMerge(r.Context(), ReceiveInput{
		Product:    catalog.ProductRef{Kind: catalog.ProductKind(req.ProductKind), ID: req.ProductID},
		LocationID: req.LocationID,
		Qty:        req.Qty,
		Unit:       req.Unit,
		ActorID:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "top up", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, row)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrRowNotFound):
		httpx.Problem(w, http.StatusNotFound, "Row Not Found", err.Error())
	case errors.Is(err, catalog.ErrReferentialIntegrity), errors.Is(err, catalog.ErrInvalidRef):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Referential Integrity", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrTopUpBatchMeta), errors.Is(err, ErrTopUpAmbiguous):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, ErrInsufficientQuantity):
		httpx.Problem(w, http.StatusConflict, "Insufficient Quantity", err.Error())
	case errors.Is(err, ErrBatchNumberRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Batch Number Required", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func productFromQuery(r *http.Request) (catalog.ProductRef, error) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	ref := catalog.ProductRef{Kind: catalog.ProductKind(r.URL.Query().Get("product_kind")), ID: id}
	if !ref.Valid() {
		return catalog.ProductRef{}, catalog.ErrInvalidRef
	}
	return ref, nil
}
