package movement

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-his/meridian-his/internal/catalog"
)

// Status is the inter-department movement lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusExecuted  Status = "EXECUTED"
	StatusRejected  Status = "REJECTED"
)

// Urgency grades how quickly the providing department should act.
type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

var (
	ErrNotFound             = errors.New("movement: movement not found")
	ErrLineNotFound         = errors.New("movement: line not found")
	ErrInvalidState         = errors.New("movement: invalid state transition")
	ErrEmptyMovement        = errors.New("movement: movement has no lines")
	ErrPrescriptionRequired = errors.New("movement: regulated items require a prescription reference")
	ErrNotCreator           = errors.New("movement: only the creator may delete a draft")
	ErrProductMismatch      = errors.New("movement: selected row holds a different product")
	ErrLocationMismatch     = errors.New("movement: selected row is not at the providing location")
)

// InsufficientInventoryError names the contested ledger row so the caller can
// reselect just that portion. It unwraps to ErrInsufficientInventory.
type InsufficientInventoryError struct {
	RowID     int64
	Requested float64
	Available float64
}

var ErrInsufficientInventory = errors.New("movement: insufficient inventory on selected row")

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("movement: row %d holds %v, selection needs %v", e.RowID, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// InvalidStateError names the state an operation expected against the state it
// found, and unwraps to ErrInvalidState.
type InvalidStateError struct {
	Op       string
	Expected []Status
	Actual   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("movement: cannot %s movement in state %s (expected one of %v)", e.Op, e.Actual, e.Expected)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// transitions is the single allowed-edge table for the movement lifecycle.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending},
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusInTransit},
	StatusInTransit: {StatusExecuted},
	StatusExecuted:  {},
	StatusRejected:  {},
}

func guard(op string, from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	var expected []Status
	for state, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				expected = append(expected, state)
			}
		}
	}
	return &InvalidStateError{Op: op, Expected: expected, Actual: from}
}

// Movement is a transfer of already-ledgered stock from a providing
// department's location to the requester's.
type Movement struct {
	ID                    int64
	Number                string
	RequestingDeptID      int64
	ProvidingDeptID       int64
	SourceLocationID      int64
	DestinationLocationID int64
	RequestedBy           int64
	Status                Status
	Urgency               Urgency
	PrescriptionRef       string
	PatientRef            string
	Note                  string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	RequestedAt           *time.Time
	ApprovedBy            *int64
	ApprovedAt            *time.Time
	TransferInitiatedBy   *int64
	TransferInitiatedAt   *time.Time
	ExecutedBy            *int64
	ExecutedAt            *time.Time
}

// Line is one requested product. ApprovedQty is stamped at approval,
// ProvidedQty at selection time as the sum of the line's selections.
type Line struct {
	ID           int64
	MovementID   int64
	Product      catalog.ProductRef
	Unit         string
	RequestedQty float64
	ApprovedQty  *float64
	ProvidedQty  *float64
	Selections   []Selection
}

// Selection ties a line to one specific ledger row and a quantity to take
// from it.
type Selection struct {
	ID     int64
	LineID int64
	RowID  int64
	Qty    float64
}

// CreateInput is the payload for opening a draft movement.
type CreateInput struct {
	Number                string
	RequestingDeptID      int64
	ProvidingDeptID       int64
	SourceLocationID      int64
	DestinationLocationID int64
	Urgency               Urgency
	PrescriptionRef       string
	PatientRef            string
	Note                  string
	Lines                 []LineInput
}

type LineInput struct {
	Product      catalog.ProductRef
	Unit         string
	RequestedQty float64
}

// SelectionInput names one ledger row and the quantity to reserve from it.
type SelectionInput struct {
	RowID int64
	Qty   float64
}
