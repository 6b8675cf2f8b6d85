package movement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler manages movement endpoints.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers movement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/items", h.addItem)
	r.Put("/{id}/items/{lineID}", h.updateItem)
	r.Delete("/{id}/items/{lineID}", h.removeItem)
	r.Post("/{id}/send", h.send)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/items/{lineID}/selections", h.selectInventory)
	r.Post("/{id}/initialize-transfer", h.initializeTransfer)
	r.Post("/{id}/execute", h.execute)
}

type lineRequest struct {
	ProductKind  string  `json:"product_kind" validate:"required,oneof=CLINICAL GENERAL"`
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	Unit         string  `json:"unit"`
	RequestedQty float64 `json:"requested_qty" validate:"required,gt=0"`
}

type createRequest struct {
	Number                string        `json:"number" validate:"required"`
	RequestingDeptID      int64         `json:"requesting_dept_id" validate:"required,gt=0"`
	ProvidingDeptID       int64         `json:"providing_dept_id" validate:"required,gt=0"`
	SourceLocationID      int64         `json:"source_location_id" validate:"required,gt=0"`
	DestinationLocationID int64         `json:"destination_location_id" validate:"required,gt=0"`
	Urgency               string        `json:"urgency" validate:"omitempty,oneof=ROUTINE URGENT EMERGENCY"`
	PrescriptionRef       string        `json:"prescription_ref"`
	PatientRef            string        `json:"patient_ref"`
	Note                  string        `json:"note"`
	Lines                 []lineRequest `json:"lines" validate:"dive"`
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
	in := CreateInput{
		Number:                req.Number,
		RequestingDeptID:      req.RequestingDeptID,
		ProvidingDeptID:       req.ProvidingDeptID,
		SourceLocationID:      req.SourceLocationID,
		DestinationLocationID: req.DestinationLocationID,
		Urgency:               Urgency(req.Urgency),
		PrescriptionRef:       req.PrescriptionRef,
		PatientRef:            req.PatientRef,
		Note:                  req.Note,
	}
	for _, ln := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			Product:      catalog.ProductRef{Kind: catalog.ProductKind(ln.ProductKind), ID: ln.ProductID},
			Unit:         ln.Unit,
			RequestedQty: ln.RequestedQty,
		})
	}
	actor := shared.ActorFromContext(r.Context())
	m, err := h.svc.CreateDraft(r.Context(), in, actor)
	if err != nil {
		h.respondError(w, err, "create movement")
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	m, lines, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get movement")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movement": m, "lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	requesting, _ := strconv.ParseInt(q.Get("requesting_dept_id"), 10, 64)
	providing, _ := strconv.ParseInt(q.Get("providing_dept_id"), 10, 64)
	movements, err := h.svc.List(r.Context(), ListFilter{
		Status:           Status(q.Get("status")),
		RequestingDeptID: requesting,
		ProvidingDeptID:  providing,
		Pagination:       shared.NewPagination(page, perPage, 0),
	})
	if err != nil {
		h.respondError(w, err, "list movements")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), id, actor); err != nil {
		h.respondError(w, err, "delete movement")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	line, err := h.svc.AddItem(r.Context(), id, LineInput{
		Product:      catalog.ProductRef{Kind: catalog.ProductKind(req.ProductKind), ID: req.ProductID},
		Unit:         req.Unit,
		RequestedQty: req.RequestedQty,
	}, actor)
	if err != nil {
		h.respondError(w, err, "add movement item")
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

type updateItemRequest struct {
	RequestedQty float64 `json:"requested_qty" validate:"required,gt=0"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	lineID, _ := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := h.svc.UpdateItem(r.Context(), id, lineID, req.RequestedQty, actor); err != nil {
		h.respondError(w, err, "update movement item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	lineID, _ := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	if err := h.svc.RemoveItem(r.Context(), id, lineID, actor); err != nil {
		h.respondError(w, err, "remove movement item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "send movement", h.svc.Send)
}

type approveRequest struct {
	ApprovedQuantities map[int64]float64 `json:"approved_quantities"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	m, err := h.svc.Approve(r.Context(), id, actor, req.ApprovedQuantities)
	if err != nil {
		h.respondError(w, err, "approve movement")
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

type rejectRequest struct {
	Note string `json:"note"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	m, err := h.svc.Reject(r.Context(), id, actor, req.Note)
	if err != nil {
		h.respondError(w, err, "reject movement")
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

type selectionRequest struct {
	Selections []struct {
		RowID int64   `json:"row_id" validate:"required,gt=0"`
		Qty   float64 `json:"qty" validate:"required,gt=0"`
	} `json:"selections" validate:"required,dive"`
}

func (h *Handler) selectInventory(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	lineID, _ := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	var req selectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	selections := make([]SelectionInput, 0, len(req.Selections))
	for _, sel := range req.Selections {
		selections = append(selections, SelectionInput{RowID: sel.RowID, Qty: sel.Qty})
	}
	actor := shared.ActorFromContext(r.Context())
	line, err := h.svc.SelectInventory(r.Context(), id, lineID, selections, actor)
	if err != nil {
		h.respondError(w, err, "select inventory")
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) initializeTransfer(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "initialize transfer", h.svc.InitializeTransfer)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, "execute movement", h.svc.ExecuteAtDestination)
}

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id, actor int64) (Movement, error)) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	m, err := fn(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err, op)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLineNotFound), errors.Is(err, ledger.ErrRowNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrEmptyMovement):
		httpx.Problem(w, http.StatusBadRequest, "Empty Movement", err.Error())
	case errors.Is(err, ErrPrescriptionRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Prescription Required", err.Error())
	case errors.Is(err, ErrNotCreator):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, ledger.ErrInsufficientQuantity):
		httpx.Problem(w, http.StatusConflict, "Insufficient Inventory", err.Error())
	case errors.Is(err, ErrProductMismatch), errors.Is(err, ErrLocationMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Selection", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Transfer Already Initialized", err.Error())
	case errors.Is(err, catalog.ErrReferentialIntegrity), errors.Is(err, catalog.ErrInvalidRef):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Reference", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
