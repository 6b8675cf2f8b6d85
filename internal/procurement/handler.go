package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/approval"
	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler manages purchase order endpoints.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/send", h.send)
	r.Post("/{id}/submit-approval", h.submitApproval)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/cancel", h.cancel)
	r.Delete("/{id}", h.delete)
}

type lineRequest struct {
	ProductKind string  `json:"product_kind" validate:"required,oneof=CLINICAL GENERAL"`
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty" validate:"required,gt=0"`
	UnitPrice   string  `json:"unit_price" validate:"required"`
}

type createRequest struct {
	Number     string        `json:"number" validate:"required"`
	SupplierID int64         `json:"supplier_id" validate:"required,gt=0"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateInput{Number: req.Number, SupplierID: req.SupplierID, Note: req.Note}
	for _, ln := range req.Lines {
		price, err := decimal.NewFromString(ln.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Unit Price", err.Error())
			return
		}
		in.Lines = append(in.Lines, LineInput{
			Product:     catalog.ProductRef{Kind: catalog.ProductKind(ln.ProductKind), ID: ln.ProductID},
			Description: ln.Description,
			Qty:         ln.Qty,
			UnitPrice:   price,
		})
	}
	actor := shared.ActorFromContext(r.Context())
	order, err := h.svc.Create(r.Context(), in, actor)
	if err != nil {
		h.respondError(w, err, "create purchase order")
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	order, lines, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get purchase order")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	filter := ListFilter{
		Status:     Status(q.Get("status")),
		SupplierID: supplierID,
		Pagination: shared.NewPagination(page, perPage, 0),
	}
	orders, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err, "list purchase orders")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "send purchase order", h.svc.Send)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "confirm purchase order", h.svc.Confirm)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "cancel purchase order", h.svc.Cancel)
}

func (h *Handler) submitApproval(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	request, err := h.svc.SubmitForApproval(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err, "submit purchase order for approval")
		return
	}
	httpx.JSON(w, http.StatusCreated, request)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), id, actor); err != nil {
		h.respondError(w, err, "delete purchase order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id, actor int64) (Order, error)) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	order, err := fn(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err, op)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Purchase Order Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrApprovalRequired):
		httpx.Problem(w, http.StatusConflict, "Approval Required", err.Error())
	case errors.Is(err, ErrEmptyOrder):
		httpx.Problem(w, http.StatusBadRequest, "Empty Order", err.Error())
	case errors.Is(err, approval.ErrNotRequired):
		httpx.Problem(w, http.StatusConflict, "Approval Not Required", err.Error())
	case errors.Is(err, approval.ErrAlreadySubmitted):
		httpx.Problem(w, http.StatusConflict, "Already Submitted", err.Error())
	case errors.Is(err, approval.ErrNoApproverAvailable):
		httpx.Problem(w, http.StatusUnprocessableEntity, "No Approver Available", err.Error())
	case errors.Is(err, catalog.ErrReferentialIntegrity), errors.Is(err, catalog.ErrInvalidRef):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Product", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
