package receiving

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/platform/httpx"
	"github.com/meridian-his/meridian-his/internal/procurement"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// Handler manages goods receipt endpoints.
type Handler struct {
	logger   *slog.Logger
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers goods receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/validate", h.validateReceipt)
	r.Post("/{id}/transfer", h.transfer)
}

type subBatchRequest struct {
	Qty          float64 `json:"qty" validate:"required,gt=0"`
	BatchNumber  string  `json:"batch_number"`
	SerialNumber string  `json:"serial_number"`
	ExpiryDate   *string `json:"expiry_date"`
	UnitCost     string  `json:"unit_cost"`
}

type lineRequest struct {
	OrderLineID  int64             `json:"order_line_id" validate:"required,gt=0"`
	ProductKind  string            `json:"product_kind" validate:"required,oneof=CLINICAL GENERAL"`
	ProductID    int64             `json:"product_id" validate:"required,gt=0"`
	Qty          float64           `json:"qty" validate:"required,gt=0"`
	Unit         string            `json:"unit"`
	BatchNumber  string            `json:"batch_number"`
	SerialNumber string            `json:"serial_number"`
	ExpiryDate   *string           `json:"expiry_date"`
	UnitCost     string            `json:"unit_cost"`
	SubBatches   []subBatchRequest `json:"sub_batches" validate:"dive"`
}

type createRequest struct {
	Number  string        `json:"number" validate:"required"`
	OrderID int64         `json:"order_id" validate:"required,gt=0"`
	Note    string        `json:"note"`
	Lines   []lineRequest `json:"lines" validate:"required,min=1,dive"`
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
	in := CreateInput{Number: req.Number, OrderID: req.OrderID, Note: req.Note}
	for _, ln := range req.Lines {
		li, err := lineInput(ln)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Line", err.Error())
			return
		}
		in.Lines = append(in.Lines, li)
	}
	actor := shared.ActorFromContext(r.Context())
	receipt, err := h.svc.Create(r.Context(), in, actor)
	if err != nil {
		h.respondError(w, err, "create goods receipt")
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func lineInput(ln lineRequest) (LineInput, error) {
	expiry, err := parseDate(ln.ExpiryDate)
	if err != nil {
		return LineInput{}, err
	}
	cost, err := parseCost(ln.UnitCost)
	if err != nil {
		return LineInput{}, err
	}
	li := LineInput{
		OrderLineID:  ln.OrderLineID,
		Product:      catalog.ProductRef{Kind: catalog.ProductKind(ln.ProductKind), ID: ln.ProductID},
		Qty:          ln.Qty,
		Unit:         ln.Unit,
		BatchNumber:  ln.BatchNumber,
		SerialNumber: ln.SerialNumber,
		ExpiryDate:   expiry,
		UnitCost:     cost,
	}
	for _, sb := range ln.SubBatches {
		sbExpiry, err := parseDate(sb.ExpiryDate)
		if err != nil {
			return LineInput{}, err
		}
		sbCost, err := parseCost(sb.UnitCost)
		if err != nil {
			return LineInput{}, err
		}
		li.SubBatches = append(li.SubBatches, SubBatchInput{
			Qty:          sb.Qty,
			BatchNumber:  sb.BatchNumber,
			SerialNumber: sb.SerialNumber,
			ExpiryDate:   sbExpiry,
			UnitCost:     sbCost,
		})
	}
	return li, nil
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseCost(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	receipt, lines, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get goods receipt")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipt": receipt, "lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	orderID, _ := strconv.ParseInt(q.Get("order_id"), 10, 64)
	receipts, err := h.svc.List(r.Context(), ListFilter{
		Status:     Status(q.Get("status")),
		OrderID:    orderID,
		Pagination: shared.NewPagination(page, perPage, 0),
	})
	if err != nil {
		h.respondError(w, err, "list goods receipts")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

type validateRequest struct {
	DestinationID int64 `json:"destination_id" validate:"required,gt=0"`
}

func (h *Handler) validateReceipt(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	receipt, err := h.svc.Validate(r.Context(), id, req.DestinationID, actor)
	if err != nil {
		h.respondError(w, err, "validate goods receipt")
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor := shared.ActorFromContext(r.Context())
	receipt, err := h.svc.TransferToStock(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err, "transfer goods receipt to stock")
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, procurement.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrOrderNotConfirmed):
		httpx.Problem(w, http.StatusConflict, "Order Not Confirmed", err.Error())
	case errors.Is(err, ErrEmptyReceipt), errors.Is(err, ErrSubBatchOverflow):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Receipt", err.Error())
	case errors.Is(err, ErrStorageClass):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Storage Class Mismatch", err.Error())
	case errors.Is(err, ledger.ErrBatchNumberRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Batch Number Required", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Already Transferred", err.Error())
	case errors.Is(err, catalog.ErrReferentialIntegrity), errors.Is(err, catalog.ErrInvalidRef):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Reference", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
