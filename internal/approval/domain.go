package approval

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle of an approval request.
type RequestStatus string

const (
	// RequestPending awaits an approver decision.
	RequestPending RequestStatus = "PENDING"
	// RequestApproved was granted.
	RequestApproved RequestStatus = "APPROVED"
	// RequestRejected was declined.
	RequestRejected RequestStatus = "REJECTED"
)

// Outcome is the decision an approver records.
type Outcome string

const (
	// OutcomeApproved grants the request.
	OutcomeApproved Outcome = "APPROVED"
	// OutcomeRejected declines the request.
	OutcomeRejected Outcome = "REJECTED"
)

// OrderApprovalStatus mirrors the approval state stamped on the purchase
// order itself.
type OrderApprovalStatus string

const (
	// OrderApprovalNone means no approval was ever requested.
	OrderApprovalNone OrderApprovalStatus = "NONE"
	// OrderApprovalPending means a request is awaiting decision.
	OrderApprovalPending OrderApprovalStatus = "PENDING_APPROVAL"
	// OrderApprovalApproved means the decision was favourable.
	OrderApprovalApproved OrderApprovalStatus = "APPROVED"
	// OrderApprovalRejected means the decision was unfavourable.
	OrderApprovalRejected OrderApprovalStatus = "REJECTED"
)

// Approver is a role authorised to approve spending up to a ceiling.
type Approver struct {
	ID        int64
	Name      string
	MaxAmount decimal.Decimal
	Active    bool
}

// Request is one approval request for a purchase order. At most one pending
// request exists per order at a time.
type Request struct {
	ID          int64
	OrderID     int64
	OrderNumber string
	ApproverID  int64
	RequesterID int64
	Amount      decimal.Decimal
	Status      RequestStatus
	Note        string
	CreatedAt   time.Time
	DecidedBy   int64
	DecidedAt   *time.Time
}

// OrderSnapshot is what the gate needs to know about an order. The flag is
// true when any line's product always requires approval, such as controlled
// substances.
type OrderSnapshot struct {
	ID                     int64
	Number                 string
	Total                  decimal.Decimal
	AlwaysRequiresApproval bool
}

var (
	// ErrNotRequired indicates the order does not need sign-off.
	ErrNotRequired = errors.New("approval: not required for this order")
	// ErrNoApproverAvailable indicates no active approver's ceiling covers the
	// amount. This is reported distinctly from a rejection.
	ErrNoApproverAvailable = errors.New("approval: no approver can authorise this amount")
	// ErrAlreadySubmitted indicates a pending request already exists for the order.
	ErrAlreadySubmitted = errors.New("approval: a pending request already exists")
	// ErrAlreadyDecided indicates the request is no longer pending.
	ErrAlreadyDecided = errors.New("approval: request already decided")
	// ErrInvalidOutcome indicates an outcome other than approved/rejected.
	ErrInvalidOutcome = errors.New("approval: outcome must be approved or rejected")
	// ErrNotFound indicates a missing request or approver.
	ErrNotFound = errors.New("approval: not found")
)
