package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/approval"
	"github.com/meridian-his/meridian-his/internal/catalog"
)

// Status is the lifecycle state of a purchase order. The approval outcome is
// tracked separately on Order.ApprovalStatus so that "sent to supplier" and
// "cleared by an approver" never collapse into one field.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusConfirmed       Status = "CONFIRMED"
	StatusCancelled       Status = "CANCELLED"
)

// LineStatus mirrors a subset of the parent order lifecycle.
type LineStatus string

const (
	LineDraft     LineStatus = "DRAFT"
	LineConfirmed LineStatus = "CONFIRMED"
	LineCancelled LineStatus = "CANCELLED"
)

var (
	ErrNotFound         = errors.New("procurement: purchase order not found")
	ErrEmptyOrder       = errors.New("procurement: purchase order has no lines")
	ErrApprovalRequired = errors.New("procurement: approval required before confirmation")
	ErrInvalidState     = errors.New("procurement: invalid state transition")
)

// InvalidStateError names the state an operation expected against the state it
// found, and unwraps to ErrInvalidState.
type InvalidStateError struct {
	Op       string
	Expected []Status
	Actual   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("procurement: cannot %s order in state %s (expected one of %v)", e.Op, e.Actual, e.Expected)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// transitions is the single allowed-edge table for the order lifecycle. Every
// mutation goes through guard so nothing flips status ad hoc.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval, StatusConfirmed, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusConfirmed, StatusCancelled},
	StatusApproved:        {StatusConfirmed},
	StatusConfirmed:       {},
	StatusCancelled:       {},
}

func guard(op string, from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	expected := make([]Status, 0, len(transitions))
	for state, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				expected = append(expected, state)
			}
		}
	}
	return &InvalidStateError{Op: op, Expected: expected, Actual: from}
}

// Order is a purchase order header.
type Order struct {
	ID             int64
	Number         string
	SupplierID     int64
	Status         Status
	ApprovalStatus approval.OrderApprovalStatus
	Note           string
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedBy    *int64
	ConfirmedAt    *time.Time
}

// Line is a single ordered product. ApprovedQty stays nil until the order is
// confirmed; requested and approved quantities are never conflated.
type Line struct {
	ID          int64
	OrderID     int64
	Product     catalog.ProductRef
	Description string
	Qty         float64
	ApprovedQty *float64
	UnitPrice   decimal.Decimal
	Status      LineStatus
}

// Total is the order amount used for approval threshold checks.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, ln := range lines {
		total = total.Add(ln.UnitPrice.Mul(decimal.NewFromFloat(ln.Qty)))
	}
	return total
}

// CreateInput is the payload for creating a draft order.
type CreateInput struct {
	Number     string
	SupplierID int64
	Note       string
	Lines      []LineInput
}

type LineInput struct {
	Product     catalog.ProductRef
	Description string
	Qty         float64
	UnitPrice   decimal.Decimal
}
