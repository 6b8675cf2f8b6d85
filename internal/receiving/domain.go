package receiving

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
)

// Status is the goods receipt lifecycle. Transferred is terminal; nothing on
// the receipt mutates afterwards.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusValidated   Status = "VALIDATED"
	StatusTransferred Status = "TRANSFERRED"
)

var (
	ErrNotFound          = errors.New("receiving: goods receipt not found")
	ErrInvalidState      = errors.New("receiving: invalid state transition")
	ErrOrderNotConfirmed = errors.New("receiving: purchase order not confirmed")
	ErrEmptyReceipt      = errors.New("receiving: receipt has no lines")
	ErrStorageClass      = errors.New("receiving: destination cannot hold regulated goods")
	ErrSubBatchOverflow  = errors.New("receiving: sub-batch quantities exceed line quantity")
)

// InvalidStateError names the state an operation expected against the state it
// found, and unwraps to ErrInvalidState.
type InvalidStateError struct {
	Op       string
	Expected Status
	Actual   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("receiving: cannot %s receipt in state %s (expected %s)", e.Op, e.Actual, e.Expected)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Receipt is a goods receipt header against a confirmed purchase order.
type Receipt struct {
	ID            int64
	Number        string
	OrderID       int64
	Status        Status
	DestinationID *int64
	Note          string
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ValidatedBy   *int64
	ValidatedAt   *time.Time
	TransferredBy *int64
	TransferredAt *time.Time
}

// Line is one received product. Its own batch fields describe the whole
// delivery unless sub-batches split it further.
type Line struct {
	ID           int64
	ReceiptID    int64
	OrderLineID  int64
	Product      catalog.ProductRef
	Qty          float64
	Unit         string
	BatchNumber  string
	SerialNumber string
	ExpiryDate   *time.Time
	UnitCost     decimal.Decimal
	SubBatches   []SubBatch
}

// SubBatch is one physically distinct lot inside a receipt line.
type SubBatch struct {
	ID           int64
	LineID       int64
	Qty          float64
	BatchNumber  string
	SerialNumber string
	ExpiryDate   *time.Time
	UnitCost     decimal.Decimal
}

const qtyEpsilon = 1e-6

// MaterializeLine fans a receipt line out into ledger inputs. Each sub-batch
// becomes its own row; any remainder below the line quantity becomes one more
// row carrying the line's own batch identity. A line without sub-batches
// yields exactly one row. Quantities are never silently dropped.
func MaterializeLine(line Line, locationID int64, sourceRef string, actorID int64) ([]ledger.ReceiveInput, error) {
	base := ledger.ReceiveInput{
		Product:      line.Product,
		LocationID:   locationID,
		Unit:         line.Unit,
		SourceModule: "receiving",
		SourceRef:    sourceRef,
		ActorID:      actorID,
	}
	if len(line.SubBatches) == 0 {
		input := base
		input.Qty = line.Qty
		input.Meta = ledger.BatchMeta{
			BatchNumber:  line.BatchNumber,
			SerialNumber: line.SerialNumber,
			ExpiryDate:   line.ExpiryDate,
			UnitCost:     line.UnitCost,
		}
		return []ledger.ReceiveInput{input}, nil
	}

	var sum float64
	inputs := make([]ledger.ReceiveInput, 0, len(line.SubBatches)+1)
	for _, sb := range line.SubBatches {
		sum += sb.Qty
		input := base
		input.Qty = sb.Qty
		input.Meta = ledger.BatchMeta{
			BatchNumber:  sb.BatchNumber,
			SerialNumber: sb.SerialNumber,
			ExpiryDate:   sb.ExpiryDate,
			UnitCost:     sb.UnitCost,
		}
		inputs = append(inputs, input)
	}
	if sum > line.Qty+qtyEpsilon {
		return nil, fmt.Errorf("%w: line %d has %v in sub-batches against %v received",
			ErrSubBatchOverflow, line.ID, sum, line.Qty)
	}
	if remainder := line.Qty - sum; remainder > qtyEpsilon {
		input := base
		input.Qty = remainder
		input.Meta = ledger.BatchMeta{
			BatchNumber:  line.BatchNumber,
			SerialNumber: line.SerialNumber,
			ExpiryDate:   line.ExpiryDate,
			UnitCost:     line.UnitCost,
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

// CreateInput is the payload for opening a draft receipt.
type CreateInput struct {
	Number  string
	OrderID int64
	Note    string
	Lines   []LineInput
}

type LineInput struct {
	OrderLineID  int64
	Product      catalog.ProductRef
	Qty          float64
	Unit         string
	BatchNumber  string
	SerialNumber string
	ExpiryDate   *time.Time
	UnitCost     decimal.Decimal
	SubBatches   []SubBatchInput
}

type SubBatchInput struct {
	Qty          float64
	BatchNumber  string
	SerialNumber string
	ExpiryDate   *time.Time
	UnitCost     decimal.Decimal
}
