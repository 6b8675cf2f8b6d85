package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort describes repository operations used by the gate.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListActiveApprovers(ctx context.Context) ([]Approver, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	GetPendingForOrder(ctx context.Context, orderID int64) (Request, error)
	HasApprovedRequest(ctx context.Context, orderID int64) (bool, error)
	ListPending(ctx context.Context, approverID int64) ([]Request, error)
}

// AuditPort records state-changing actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Gate decides whether an order needs sign-off and routes it to the
// responsible approver.
type Gate struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewGate constructs the approval gate.
func NewGate(repo RepositoryPort, audit AuditPort) *Gate {
	return &Gate{repo: repo, audit: audit}
}

// RequiresApproval reports whether the order needs sign-off: its total
// exceeds the lowest active ceiling, or a line product is flagged as always
// requiring approval. Pure read; no side effects.
func (g *Gate) RequiresApproval(ctx context.Context, order OrderSnapshot) (bool, error) {
	if order.AlwaysRequiresApproval {
		return true, nil
	}
	approvers, err := g.repo.ListActiveApprovers(ctx)
	if err != nil {
		return false, err
	}
	if len(approvers) == 0 {
		return true, nil
	}
	lowest := approvers[0].MaxAmount
	for _, a := range approvers[1:] {
		if a.MaxAmount.LessThan(lowest) {
			lowest = a.MaxAmount
		}
	}
	return order.Total.GreaterThan(lowest), nil
}

// FindApprover selects the active approver with the smallest ceiling still
// covering the amount. No qualifying approver is a distinct, reportable
// condition, not an approval denial.
func (g *Gate) FindApprover(ctx context.Context, amount decimal.Decimal) (Approver, error) {
	approvers, err := g.repo.ListActiveApprovers(ctx)
	if err != nil {
		return Approver{}, err
	}
	var best *Approver
	for i := range approvers {
		a := approvers[i]
		if a.MaxAmount.LessThan(amount) {
			continue
		}
		if best == nil || a.MaxAmount.LessThan(best.MaxAmount) {
			best = &a
		}
	}
	if best == nil {
		return Approver{}, ErrNoApproverAvailable
	}
	return *best, nil
}

// SubmitForApproval creates exactly one pending request for the order and
// marks the order as pending approval. The amount is snapshotted at
// submission time.
func (g *Gate) SubmitForApproval(ctx context.Context, order OrderSnapshot, requesterID int64) (Request, error) {
	required, err := g.RequiresApproval(ctx, order)
	if err != nil {
		return Request{}, err
	}
	if !required {
		return Request{}, ErrNotRequired
	}
	if _, err := g.repo.GetPendingForOrder(ctx, order.ID); err == nil {
		return Request{}, ErrAlreadySubmitted
	} else if !errors.Is(err, ErrNotFound) {
		return Request{}, err
	}
	approver, err := g.FindApprover(ctx, order.Total)
	if err != nil {
		return Request{}, err
	}
	request := Request{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		ApproverID:  approver.ID,
		RequesterID: requesterID,
		Amount:      order.Total,
		Status:      RequestPending,
	}
	err = g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateRequest(ctx, request)
		if err != nil {
			return err
		}
		request.ID = id
		return tx.SetOrderApprovalStatus(ctx, order.ID, OrderApprovalPending)
	})
	if err != nil {
		return Request{}, err
	}
	g.recordAudit(ctx, requesterID, "approval:SUBMIT", order.ID, nil, map[string]any{
		"request_id":  request.ID,
		"approver_id": approver.ID,
		"amount":      order.Total.String(),
	})
	return request, nil
}

// Decide terminates a pending request. Approval does not confirm the order;
// confirmation stays a separate explicit action gated on this decision.
func (g *Gate) Decide(ctx context.Context, requestID int64, actorID int64, outcome Outcome, note string) (Request, error) {
	if outcome != OutcomeApproved && outcome != OutcomeRejected {
		return Request{}, ErrInvalidOutcome
	}
	request, err := g.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if request.Status != RequestPending {
		return Request{}, ErrAlreadyDecided
	}
	before := request.Status
	now := time.Now().UTC()
	status := RequestApproved
	orderStatus := OrderApprovalApproved
	if outcome == OutcomeRejected {
		status = RequestRejected
		orderStatus = OrderApprovalRejected
	}
	err = g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateRequestStatus(ctx, requestID, status, actorID, now, note); err != nil {
			return err
		}
		return tx.SetOrderApprovalStatus(ctx, request.OrderID, orderStatus)
	})
	if err != nil {
		return Request{}, err
	}
	request.Status = status
	request.DecidedBy = actorID
	request.DecidedAt = &now
	request.Note = note
	g.recordAudit(ctx, actorID, fmt.Sprintf("approval:%s", outcome), request.OrderID, map[string]any{
		"status": string(before),
	}, map[string]any{
		"status":     string(status),
		"request_id": requestID,
		"note":       note,
	})
	return request, nil
}

// HasApprovedRequest reports whether the order carries a favourable decision.
func (g *Gate) HasApprovedRequest(ctx context.Context, orderID int64) (bool, error) {
	return g.repo.HasApprovedRequest(ctx, orderID)
}

// PendingRequests lists requests awaiting a decision, optionally filtered to
// one approver.
func (g *Gate) PendingRequests(ctx context.Context, approverID int64) ([]Request, error) {
	return g.repo.ListPending(ctx, approverID)
}

func (g *Gate) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, before, after map[string]any) {
	if g.audit == nil {
		return
	}
	_ = g.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", orderID),
		Before:   before,
		After:    after,
	})
}
