package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRow(ctx context.Context, id int64) (Row, error)
	ListRows(ctx context.Context, product catalog.ProductRef, locationID int64) ([]Row, error)
	ListBySource(ctx context.Context, module, ref string) ([]Row, error)
	SumAvailable(ctx context.Context, product catalog.ProductRef, locationID int64, opts AvailabilityOpts) (float64, error)
	ListExpiring(ctx context.Context, locationID int64, before time.Time) ([]Row, error)
}

// CatalogPort resolves product references for compliance checks.
type CatalogPort interface {
	Product(ctx context.Context, ref catalog.ProductRef) (catalog.Product, error)
}

// AuditPort records state-changing actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AvailabilityCache caches the strict availability view per product/location.
type AvailabilityCache interface {
	Get(ctx context.Context, product catalog.ProductRef, locationID int64) (float64, bool)
	Set(ctx context.Context, product catalog.ProductRef, locationID int64, qty float64)
	Invalidate(ctx context.Context, product catalog.ProductRef, locationID int64)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	ExpiryHorizon time.Duration
}

// Service is the batch ledger: append-oriented rows, explicit deductions,
// never an implicit merge across distinct batches.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
	cache   AvailabilityCache
	horizon time.Duration
}

// NewService builds Service.
func NewService(repo RepositoryPort, cat CatalogPort, audit AuditPort, cache AvailabilityCache, cfg ServiceConfig) *Service {
	horizon := cfg.ExpiryHorizon
	if horizon <= 0 {
		horizon = DefaultExpiryHorizon
	}
	return &Service{repo: repo, catalog: cat, audit: audit, cache: cache, horizon: horizon}
}

// ReceiveBatch records a new batch row. It always inserts: receiving more of
// the same product at the same location with different batch metadata creates
// an additional row, never an update of an existing one.
func (s *Service) ReceiveBatch(ctx context.Context, input ReceiveInput) (Row, error) {
	rows, err := s.ReceiveBatchSet(ctx, []ReceiveInput{input})
	if err != nil {
		return Row{}, err
	}
	return rows[0], nil
}

// ReceiveBatchSet records every batch row inside one transaction: either the
// whole set commits or none of it does. Callers materialising a document into
// multiple rows go through this so a mid-set failure leaves nothing behind.
func (s *Service) ReceiveBatchSet(ctx context.Context, inputs []ReceiveInput) ([]Row, error) {
	if len(inputs) == 0 {
		return nil, ErrInvalidQuantity
	}
	for _, input := range inputs {
		if err := s.validateReceive(ctx, input); err != nil {
			return nil, err
		}
	}
	rows := make([]Row, 0, len(inputs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range inputs {
			row := rowFromInput(input)
			id, err := tx.InsertRow(ctx, row)
			if err != nil {
				return err
			}
			row.ID = id
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		s.invalidate(ctx, row.Product, row.LocationID)
		s.recordAudit(ctx, inputs[i].ActorID, "ledger:RECEIVE", row, nil, map[string]any{
			"qty":          row.Qty,
			"batch_number": row.BatchNumber,
			"location_id":  row.LocationID,
		})
	}
	return rows, nil
}

// FirstTimeMerge is the one sanctioned merge path, used for simple stock
// top-ups without batch identity. Receipts with batch metadata go through
// ReceiveBatch; this call rejects them.
func (s *Service) FirstTimeMerge(ctx context.Context, input ReceiveInput) (Row, error) {
	if !input.Meta.Empty() {
		return Row{}, ErrTopUpBatchMeta
	}
	if err := s.validateReceive(ctx, input); err != nil {
		return Row{}, err
	}
	var result Row
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		candidates, err := tx.ListTopUpCandidates(ctx, input.Product, input.LocationID)
		if err != nil {
			return err
		}
		switch len(candidates) {
		case 0:
			row := rowFromInput(input)
			id, err := tx.InsertRow(ctx, row)
			if err != nil {
				return err
			}
			row.ID = id
			result = row
			return nil
		case 1:
			row, err := tx.GetRowForUpdate(ctx, candidates[0].ID)
			if err != nil {
				return err
			}
			if !row.Meta().Empty() {
				return ErrTopUpAmbiguous
			}
			row.Qty += input.Qty
			if err := tx.UpdateRowQty(ctx, row.ID, row.Qty); err != nil {
				return err
			}
			result = row
			return nil
		default:
			return ErrTopUpAmbiguous
		}
	})
	if err != nil {
		return Row{}, err
	}
	s.invalidate(ctx, input.Product, input.LocationID)
	s.recordAudit(ctx, input.ActorID, "ledger:TOPUP", result, nil, map[string]any{
		"qty":         input.Qty,
		"location_id": input.LocationID,
	})
	return result, nil
}

// Deduct removes quantity from one specific row. The row is re-read under a
// row lock so the check and the decrement are one unit; a failed deduction
// leaves the row untouched.
func (s *Service) Deduct(ctx context.Context, rowID int64, qty float64, actorID int64) (Row, error) {
	rows, err := s.DeductSet(ctx, []Deduction{{RowID: rowID, Qty: qty}}, actorID)
	if err != nil {
		return Row{}, err
	}
	return rows[0], nil
}

// DeductSet applies every deduction inside one transaction: either all rows
// commit or none does. The returned error names the row that fell short.
func (s *Service) DeductSet(ctx context.Context, deductions []Deduction, actorID int64) ([]Row, error) {
	if len(deductions) == 0 {
		return nil, ErrInvalidQuantity
	}
	for _, d := range deductions {
		if d.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	updated := make([]Row, 0, len(deductions))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, d := range deductions {
			row, err := tx.GetRowForUpdate(ctx, d.RowID)
			if err != nil {
				return err
			}
			if d.Qty > row.Qty+qtyEpsilon {
				return fmt.Errorf("%w: row %d holds %.4f, requested %.4f", ErrInsufficientQuantity, row.ID, row.Qty, d.Qty)
			}
			row.Qty -= d.Qty
			if row.Qty < qtyEpsilon {
				row.Qty = 0
			}
			if err := tx.UpdateRowQty(ctx, row.ID, row.Qty); err != nil {
				return err
			}
			updated = append(updated, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, row := range updated {
		s.invalidate(ctx, row.Product, row.LocationID)
		s.recordAudit(ctx, actorID, "ledger:DEDUCT", row, map[string]any{
			"qty": row.Qty + deductions[i].Qty,
		}, map[string]any{
			"qty":      row.Qty,
			"deducted": deductions[i].Qty,
		})
	}
	return updated, nil
}

// AvailableQuantity sums row quantities for the product at the location.
// Callers state explicitly whether expired and zeroed rows count.
func (s *Service) AvailableQuantity(ctx context.Context, product catalog.ProductRef, locationID int64, opts AvailabilityOpts) (float64, error) {
	if !product.Valid() {
		return 0, catalog.ErrInvalidRef
	}
	strict := !opts.IncludeExpired && !opts.IncludeZero
	if strict && s.cache != nil {
		if qty, ok := s.cache.Get(ctx, product, locationID); ok {
			return qty, nil
		}
	}
	qty, err := s.repo.SumAvailable(ctx, product, locationID, opts)
	if err != nil {
		return 0, err
	}
	if strict && s.cache != nil {
		s.cache.Set(ctx, product, locationID, qty)
	}
	return qty, nil
}

// Row fetches one ledger row.
func (s *Service) Row(ctx context.Context, id int64) (Row, error) {
	return s.repo.GetRow(ctx, id)
}

// Rows lists ledger rows for a product at a location, oldest expiry first.
func (s *Service) Rows(ctx context.Context, product catalog.ProductRef, locationID int64) ([]Row, error) {
	if !product.Valid() {
		return nil, catalog.ErrInvalidRef
	}
	return s.repo.ListRows(ctx, product, locationID)
}

// RowsBySource lists the rows a given module/reference materialised.
func (s *Service) RowsBySource(ctx context.Context, module, ref string) ([]Row, error) {
	return s.repo.ListBySource(ctx, module, ref)
}

// ExpiringRows returns rows at the location already expired or expiring
// within the configured horizon, classified.
func (s *Service) ExpiringRows(ctx context.Context, locationID int64, now time.Time) (map[ExpiryStatus][]Row, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rows, err := s.repo.ListExpiring(ctx, locationID, now.Add(s.horizon))
	if err != nil {
		return nil, err
	}
	grouped := make(map[ExpiryStatus][]Row)
	for _, row := range rows {
		status := ClassifyExpiry(row.ExpiryDate, now, s.horizon)
		grouped[status] = append(grouped[status], row)
	}
	return grouped, nil
}

// Horizon exposes the configured expiring-soon horizon.
func (s *Service) Horizon() time.Duration {
	return s.horizon
}

func (s *Service) validateReceive(ctx context.Context, input ReceiveInput) error {
	if !input.Product.Valid() {
		return catalog.ErrInvalidRef
	}
	if input.LocationID == 0 {
		return errors.New("ledger: location required")
	}
	if input.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.catalog != nil {
		product, err := s.catalog.Product(ctx, input.Product)
		if err != nil {
			return err
		}
		if product.Regulated && input.Meta.BatchNumber == "" {
			return ErrBatchNumberRequired
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, product catalog.ProductRef, locationID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, product, locationID)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, row Row, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger_row",
		EntityID: fmt.Sprintf("%d", row.ID),
		Before:   before,
		After:    after,
	})
}

func rowFromInput(input ReceiveInput) Row {
	return Row{
		Product:        input.Product,
		LocationID:     input.LocationID,
		Qty:            input.Qty,
		Unit:           input.Unit,
		BatchNumber:    input.Meta.BatchNumber,
		SerialNumber:   input.Meta.SerialNumber,
		ExpiryDate:     input.Meta.ExpiryDate,
		UnitCost:       input.Meta.UnitCost,
		Verified:       input.Verified,
		QualityChecked: input.QualityChecked,
		SourceModule:   input.SourceModule,
		SourceRef:      input.SourceRef,
	}
}
