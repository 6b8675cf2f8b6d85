package receiving

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/procurement"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort is the persistence surface the materializer needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (Receipt, []Line, error)
	ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, error)
}

type TxRepository interface {
	CreateReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	InsertSubBatch(ctx context.Context, sb SubBatch) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetValidated(ctx context.Context, id int64, destinationID int64, by int64, at time.Time) error
	SetTransferred(ctx context.Context, id int64, by int64, at time.Time) error
}

// LedgerPort is satisfied by ledger.Service. Materialization hands the whole
// row set over in one call so the ledger commits it in one transaction.
type LedgerPort interface {
	ReceiveBatchSet(ctx context.Context, inputs []ledger.ReceiveInput) ([]ledger.Row, error)
}

// CatalogPort resolves products and storage locations.
type CatalogPort interface {
	Product(ctx context.Context, ref catalog.ProductRef) (catalog.Product, error)
	Location(ctx context.Context, id int64) (catalog.StorageLocation, error)
}

// OrderPort is satisfied by procurement.Service.
type OrderPort interface {
	Get(ctx context.Context, id int64) (procurement.Order, []procurement.Line, error)
}

// IdempotencyPort guards materialization against replays. Materialization is
// append-only and re-running it would duplicate ledger rows.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

type ListFilter struct {
	Status     Status
	OrderID    int64
	Pagination shared.Pagination
}

// Service implements the goods receipt materializer.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	catalog     CatalogPort
	orders      OrderPort
	idempotency IdempotencyPort
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(repo RepositoryPort, lg LedgerPort, cat CatalogPort, orders OrderPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: lg, catalog: cat, orders: orders, idempotency: idem, audit: audit, logger: logger, now: time.Now}
}

// Create opens a draft receipt against a confirmed purchase order.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (Receipt, error) {
	if len(in.Lines) == 0 {
		return Receipt{}, ErrEmptyReceipt
	}
	order, _, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return Receipt{}, err
	}
	if order.Status != procurement.StatusConfirmed {
		return Receipt{}, fmt.Errorf("%w: order %s is %s", ErrOrderNotConfirmed, order.Number, order.Status)
	}
	now := s.now()
	number := in.Number
	if number == "" {
		number = shared.DocumentNumber("GR", now)
	}
	receipt := Receipt{
		Number:    number,
		OrderID:   in.OrderID,
		Status:    StatusDraft,
		Note:      in.Note,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	lines := make([]Line, 0, len(in.Lines))
	for _, li := range in.Lines {
		if !li.Product.Valid() {
			return Receipt{}, fmt.Errorf("%w: %s", catalog.ErrInvalidRef, li.Product)
		}
		if li.Qty <= 0 {
			return Receipt{}, fmt.Errorf("receiving: line quantity must be positive, got %v", li.Qty)
		}
		product, err := s.catalog.Product(ctx, li.Product)
		if err != nil {
			return Receipt{}, err
		}
		line := Line{
			OrderLineID:  li.OrderLineID,
			Product:      li.Product,
			Qty:          li.Qty,
			Unit:         li.Unit,
			BatchNumber:  li.BatchNumber,
			SerialNumber: li.SerialNumber,
			ExpiryDate:   li.ExpiryDate,
			UnitCost:     li.UnitCost,
		}
		for _, sb := range li.SubBatches {
			if sb.Qty <= 0 {
				return Receipt{}, fmt.Errorf("receiving: sub-batch quantity must be positive, got %v", sb.Qty)
			}
			line.SubBatches = append(line.SubBatches, SubBatch{
				Qty:          sb.Qty,
				BatchNumber:  sb.BatchNumber,
				SerialNumber: sb.SerialNumber,
				ExpiryDate:   sb.ExpiryDate,
				UnitCost:     sb.UnitCost,
			})
		}
		// Overfilled sub-batches and regulated products lacking a batch
		// number are rejected at creation, not at transfer.
		inputs, err := MaterializeLine(line, 0, "", actorID)
		if err != nil {
			return Receipt{}, err
		}
		if product.Regulated {
			for _, input := range inputs {
				if input.Meta.BatchNumber == "" {
					return Receipt{}, fmt.Errorf("%w: %s", ledger.ErrBatchNumberRequired, product.Name)
				}
			}
		}
		lines = append(lines, line)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		for i := range lines {
			lines[i].ReceiptID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
			for j := range lines[i].SubBatches {
				lines[i].SubBatches[j].LineID = lineID
				sbID, err := tx.InsertSubBatch(ctx, lines[i].SubBatches[j])
				if err != nil {
					return err
				}
				lines[i].SubBatches[j].ID = sbID
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, actorID, "receipt:CREATE", receipt.ID, nil, map[string]any{"status": receipt.Status, "order_id": receipt.OrderID})
	return receipt, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Receipt, []Line, error) {
	return s.repo.GetReceipt(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Receipt, error) {
	return s.repo.ListReceipts(ctx, filter)
}

// Validate checks the draft receipt against its destination and stamps the
// resolved location. Regulated products may only rest at locations whose
// storage class accepts them.
func (s *Service) Validate(ctx context.Context, id, destinationID, actorID int64) (Receipt, error) {
	receipt, lines, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != StatusDraft {
		return Receipt{}, &InvalidStateError{Op: "validate", Expected: StatusDraft, Actual: receipt.Status}
	}
	location, err := s.catalog.Location(ctx, destinationID)
	if err != nil {
		return Receipt{}, err
	}
	for _, line := range lines {
		product, err := s.catalog.Product(ctx, line.Product)
		if err != nil {
			return Receipt{}, err
		}
		if product.Regulated && !location.AcceptsRegulated() {
			return Receipt{}, fmt.Errorf("%w: %s at location %q", ErrStorageClass, product.Name, location.Name)
		}
	}

	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, receipt.ID, StatusValidated); err != nil {
			return err
		}
		return tx.SetValidated(ctx, receipt.ID, destinationID, actorID, now)
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt.Status = StatusValidated
	receipt.DestinationID = &destinationID
	receipt.ValidatedBy = &actorID
	receipt.ValidatedAt = &now
	s.recordAudit(ctx, actorID, "receipt:VALIDATE", receipt.ID,
		map[string]any{"status": StatusDraft},
		map[string]any{"status": StatusValidated, "destination_id": destinationID})
	return receipt, nil
}

// TransferToStock materializes one ledger row per distinct batch at the
// stamped destination and closes the receipt. The idempotency key makes the
// append-only materialization safe against replays; a failed run releases the
// key so the caller can retry.
func (s *Service) TransferToStock(ctx context.Context, id, actorID int64) (Receipt, error) {
	receipt, lines, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != StatusValidated {
		return Receipt{}, &InvalidStateError{Op: "transfer", Expected: StatusValidated, Actual: receipt.Status}
	}
	if receipt.DestinationID == nil {
		return Receipt{}, fmt.Errorf("receiving: receipt %d validated without destination", receipt.ID)
	}

	key := fmt.Sprintf("receipt:%d:transfer", receipt.ID)
	if err := s.idempotency.CheckAndInsert(ctx, key, "receiving"); err != nil {
		return Receipt{}, err
	}

	sourceRef := strconv.FormatInt(receipt.ID, 10)
	var inputs []ledger.ReceiveInput
	for _, line := range lines {
		lineInputs, err := MaterializeLine(line, *receipt.DestinationID, sourceRef, actorID)
		if err != nil {
			s.releaseKey(ctx, key)
			return Receipt{}, err
		}
		inputs = append(inputs, lineInputs...)
	}
	// One set, one ledger transaction: a failed transfer leaves no rows behind.
	if _, err := s.ledger.ReceiveBatchSet(ctx, inputs); err != nil {
		s.releaseKey(ctx, key)
		return Receipt{}, fmt.Errorf("receiving: materialize receipt %d: %w", receipt.ID, err)
	}

	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, receipt.ID, StatusTransferred); err != nil {
			return err
		}
		return tx.SetTransferred(ctx, receipt.ID, actorID, now)
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt.Status = StatusTransferred
	receipt.TransferredBy = &actorID
	receipt.TransferredAt = &now
	s.recordAudit(ctx, actorID, "receipt:TRANSFER", receipt.ID,
		map[string]any{"status": StatusValidated},
		map[string]any{"status": StatusTransferred, "ledger_rows": len(inputs)})
	return receipt, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, receiptID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "goods_receipt",
		EntityID: strconv.FormatInt(receiptID, 10),
		Before:   before,
		After:    after,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("receipt_id", receiptID), slog.Any("error", err))
	}
}
