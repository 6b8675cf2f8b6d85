package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/catalog"
)

// BatchMeta carries the physical identity of a batch. Two rows with differing
// meta are different batches and are never merged.
type BatchMeta struct {
	BatchNumber  string
	SerialNumber string
	ExpiryDate   *time.Time
	UnitCost     decimal.Decimal
}

// Empty reports whether the meta carries no batch identity at all.
func (m BatchMeta) Empty() bool {
	return m.BatchNumber == "" && m.SerialNumber == "" && m.ExpiryDate == nil
}

// SameIdentity compares the identity fields only, not cost.
func (m BatchMeta) SameIdentity(other BatchMeta) bool {
	if m.BatchNumber != other.BatchNumber || m.SerialNumber != other.SerialNumber {
		return false
	}
	if (m.ExpiryDate == nil) != (other.ExpiryDate == nil) {
		return false
	}
	return m.ExpiryDate == nil || m.ExpiryDate.Equal(*other.ExpiryDate)
}

// Row is one recorded quantity of one batch at one storage location. Rows
// driven to zero stay on record for the audit trail but drop out of
// availability totals.
type Row struct {
	ID             int64
	Product        catalog.ProductRef
	LocationID     int64
	Qty            float64
	Unit           string
	BatchNumber    string
	SerialNumber   string
	ExpiryDate     *time.Time
	UnitCost       decimal.Decimal
	Verified       bool
	QualityChecked bool
	SourceModule   string
	SourceRef      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Meta extracts the row's batch identity.
func (r Row) Meta() BatchMeta {
	return BatchMeta{
		BatchNumber:  r.BatchNumber,
		SerialNumber: r.SerialNumber,
		ExpiryDate:   r.ExpiryDate,
		UnitCost:     r.UnitCost,
	}
}

// ExpiryStatus classifies a row's expiry against a point in time.
type ExpiryStatus string

const (
	// ExpiryExpired means the expiry date has passed.
	ExpiryExpired ExpiryStatus = "EXPIRED"
	// ExpiryExpiringSoon means the expiry falls within the horizon.
	ExpiryExpiringSoon ExpiryStatus = "EXPIRING_SOON"
	// ExpiryValid means no expiry or an expiry beyond the horizon.
	ExpiryValid ExpiryStatus = "VALID"
)

// DefaultExpiryHorizon is the pharmacy compliance default for "expiring soon".
const DefaultExpiryHorizon = 60 * 24 * time.Hour

// ClassifyExpiry is a pure function of the expiry date and the reference time.
func ClassifyExpiry(expiry *time.Time, now time.Time, horizon time.Duration) ExpiryStatus {
	if expiry == nil {
		return ExpiryValid
	}
	if horizon <= 0 {
		horizon = DefaultExpiryHorizon
	}
	if expiry.Before(now) {
		return ExpiryExpired
	}
	if !expiry.After(now.Add(horizon)) {
		return ExpiryExpiringSoon
	}
	return ExpiryValid
}

// ReceiveInput describes one batch to record.
type ReceiveInput struct {
	Product        catalog.ProductRef
	LocationID     int64
	Qty            float64
	Unit           string
	Meta           BatchMeta
	Verified       bool
	QualityChecked bool
	SourceModule   string
	SourceRef      string
	ActorID        int64
}

// Deduction names one row and the quantity to remove from it.
type Deduction struct {
	RowID int64
	Qty   float64
}

// AvailabilityOpts makes the caller explicit about which rows count.
// Compliance reporting needs both the strict and the raw on-hand view.
type AvailabilityOpts struct {
	IncludeExpired bool
	IncludeZero    bool
}

var (
	// ErrRowNotFound indicates the ledger row does not exist.
	ErrRowNotFound = errors.New("ledger: row not found")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInsufficientQuantity indicates a deduction larger than the row holds.
	ErrInsufficientQuantity = errors.New("ledger: insufficient quantity on row")
	// ErrBatchNumberRequired indicates a regulated product received without a batch number.
	ErrBatchNumberRequired = errors.New("ledger: batch number required for regulated product")
	// ErrTopUpBatchMeta indicates a top-up carrying batch identity; use ReceiveBatch.
	ErrTopUpBatchMeta = errors.New("ledger: top-up must not carry batch identity")
	// ErrTopUpAmbiguous indicates multiple or batch-tracked rows already exist for the pair.
	ErrTopUpAmbiguous = errors.New("ledger: top-up requires at most one undifferentiated row")
)

const qtyEpsilon = 1e-6
