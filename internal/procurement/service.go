package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-his/meridian-his/internal/approval"
	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort is the persistence surface the workflow needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, []Line, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
}

// TxRepository is the transactional slice of the repository.
type TxRepository interface {
	CreateOrder(ctx context.Context, order Order) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetConfirmed(ctx context.Context, id int64, by int64, at time.Time) error
	ConfirmLine(ctx context.Context, lineID int64, approvedQty float64) error
	CancelLines(ctx context.Context, orderID int64) error
	DeleteOrder(ctx context.Context, id int64) error
}

// ApprovalPort is satisfied by approval.Gate.
type ApprovalPort interface {
	RequiresApproval(ctx context.Context, order approval.OrderSnapshot) (bool, error)
	SubmitForApproval(ctx context.Context, order approval.OrderSnapshot, requesterID int64) (approval.Request, error)
	HasApprovedRequest(ctx context.Context, orderID int64) (bool, error)
}

// CatalogPort resolves product records for validation and approval flags.
type CatalogPort interface {
	Product(ctx context.Context, ref catalog.ProductRef) (catalog.Product, error)
}

// AuditPort records workflow transitions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

type ListFilter struct {
	Status     Status
	SupplierID int64
	Pagination shared.Pagination
}

// Service implements the purchase order workflow.
type Service struct {
	repo    RepositoryPort
	gate    ApprovalPort
	catalog CatalogPort
	audit   AuditPort
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo RepositoryPort, gate ApprovalPort, cat CatalogPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, gate: gate, catalog: cat, audit: audit, logger: logger, now: time.Now}
}

// Create persists a draft order with its lines. Every line product must
// resolve in the catalog.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (Order, error) {
	if len(in.Lines) == 0 {
		return Order{}, ErrEmptyOrder
	}
	now := s.now()
	number := in.Number
	if number == "" {
		number = shared.DocumentNumber("PO", now)
	}
	order := Order{
		Number:         number,
		SupplierID:     in.SupplierID,
		Status:         StatusDraft,
		ApprovalStatus: approval.OrderApprovalNone,
		Note:           in.Note,
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	lines := make([]Line, 0, len(in.Lines))
	for _, li := range in.Lines {
		if !li.Product.Valid() {
			return Order{}, fmt.Errorf("%w: %s", catalog.ErrInvalidRef, li.Product)
		}
		if li.Qty <= 0 {
			return Order{}, fmt.Errorf("procurement: line quantity must be positive, got %v", li.Qty)
		}
		if _, err := s.catalog.Product(ctx, li.Product); err != nil {
			return Order{}, err
		}
		lines = append(lines, Line{
			Product:     li.Product,
			Description: li.Description,
			Qty:         li.Qty,
			UnitPrice:   li.UnitPrice,
			Status:      LineDraft,
		})
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		for i := range lines {
			lines[i].OrderID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actorID, "po:CREATE", order.ID, nil, map[string]any{"status": order.Status, "number": order.Number})
	return order, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Order, []Line, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	return s.repo.ListOrders(ctx, filter)
}

// Send marks a draft order as sent to the supplier. This is the supplier-facing
// transition and carries no approval semantics. An order without lines has
// nothing to send.
func (s *Service) Send(ctx context.Context, id, actorID int64) (Order, error) {
	order, lines, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if len(lines) == 0 {
		return Order{}, ErrEmptyOrder
	}
	if err := guard("send", order.Status, StatusPendingApproval); err != nil {
		return Order{}, err
	}
	before := map[string]any{"status": order.Status}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, order.ID, StatusPendingApproval)
	})
	if err != nil {
		return Order{}, err
	}
	order.Status = StatusPendingApproval
	s.recordAudit(ctx, actorID, "po:send", order.ID, before, map[string]any{"status": StatusPendingApproval})
	return order, nil
}

// SubmitForApproval routes the order through the approval gate. It is a no-op
// error (approval.ErrNotRequired) when the order clears the threshold and
// carries no always-approve products.
func (s *Service) SubmitForApproval(ctx context.Context, id, actorID int64) (approval.Request, error) {
	order, lines, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return approval.Request{}, err
	}
	if order.Status != StatusDraft && order.Status != StatusPendingApproval {
		return approval.Request{}, &InvalidStateError{
			Op:       "submit for approval",
			Expected: []Status{StatusDraft, StatusPendingApproval},
			Actual:   order.Status,
		}
	}
	snapshot, err := s.snapshot(ctx, order, lines)
	if err != nil {
		return approval.Request{}, err
	}
	req, err := s.gate.SubmitForApproval(ctx, snapshot, actorID)
	if err != nil {
		return approval.Request{}, err
	}
	if order.Status == StatusDraft {
		if _, err := s.transition(ctx, id, actorID, "submit for approval", StatusPendingApproval); err != nil {
			return approval.Request{}, err
		}
	}
	return req, nil
}

// Confirm finalizes the order. When the approval gate says the order needs
// approval, confirmation is unreachable until an approved request exists.
// Confirmation stamps every line's approved quantity from its requested one.
func (s *Service) Confirm(ctx context.Context, id, actorID int64) (Order, error) {
	order, lines, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := guard("confirm", order.Status, StatusConfirmed); err != nil {
		return Order{}, err
	}
	snapshot, err := s.snapshot(ctx, order, lines)
	if err != nil {
		return Order{}, err
	}
	required, err := s.gate.RequiresApproval(ctx, snapshot)
	if err != nil {
		return Order{}, err
	}
	if required {
		approved, err := s.gate.HasApprovedRequest(ctx, order.ID)
		if err != nil {
			return Order{}, err
		}
		if !approved {
			return Order{}, fmt.Errorf("%w: order %s", ErrApprovalRequired, order.Number)
		}
	}

	now := s.now()
	before := map[string]any{"status": order.Status}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, order.ID, StatusConfirmed); err != nil {
			return err
		}
		if err := tx.SetConfirmed(ctx, order.ID, actorID, now); err != nil {
			return err
		}
		for _, ln := range lines {
			if err := tx.ConfirmLine(ctx, ln.ID, ln.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	order.Status = StatusConfirmed
	order.ConfirmedBy = &actorID
	order.ConfirmedAt = &now
	s.recordAudit(ctx, actorID, "po:CONFIRM", order.ID, before, map[string]any{"status": StatusConfirmed})
	return order, nil
}

// Cancel aborts an order that has not been confirmed. Lines are cancelled with
// the header so nothing downstream picks them up.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Order, error) {
	order, _, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := guard("cancel", order.Status, StatusCancelled); err != nil {
		return Order{}, err
	}
	before := map[string]any{"status": order.Status}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, order.ID, StatusCancelled); err != nil {
			return err
		}
		return tx.CancelLines(ctx, order.ID)
	})
	if err != nil {
		return Order{}, err
	}
	order.Status = StatusCancelled
	s.recordAudit(ctx, actorID, "po:CANCEL", order.ID, before, map[string]any{"status": StatusCancelled})
	return order, nil
}

// Delete removes a draft order outright. Anything past draft must be cancelled
// instead so the trail survives.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	order, _, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if order.Status != StatusDraft {
		return &InvalidStateError{Op: "delete", Expected: []Status{StatusDraft}, Actual: order.Status}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "po:DELETE", order.ID, map[string]any{"status": StatusDraft}, nil)
	return nil
}

func (s *Service) transition(ctx context.Context, id, actorID int64, op string, to Status) (Order, error) {
	order, _, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := guard(op, order.Status, to); err != nil {
		return Order{}, err
	}
	before := map[string]any{"status": order.Status}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, order.ID, to)
	})
	if err != nil {
		return Order{}, err
	}
	order.Status = to
	s.recordAudit(ctx, actorID, "po:"+op, order.ID, before, map[string]any{"status": to})
	return order, nil
}

// snapshot builds the gate's view of the order: the monetary total plus
// whether any line product is flagged always-approve.
func (s *Service) snapshot(ctx context.Context, order Order, lines []Line) (approval.OrderSnapshot, error) {
	always := false
	for _, ln := range lines {
		product, err := s.catalog.Product(ctx, ln.Product)
		if err != nil {
			return approval.OrderSnapshot{}, err
		}
		if product.AlwaysRequiresApproval {
			always = true
			break
		}
	}
	return approval.OrderSnapshot{
		ID:                     order.ID,
		Number:                 order.Number,
		Total:                  Total(lines),
		AlwaysRequiresApproval: always,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(orderID, 10),
		Before:   before,
		After:    after,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("order_id", orderID), slog.Any("error", err))
	}
}
