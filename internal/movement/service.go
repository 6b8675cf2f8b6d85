package movement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/shared"
)

// RepositoryPort is the persistence surface the workflow needs. GetMovement
// returns lines with their selections attached.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, []Line, error)
	ListMovements(ctx context.Context, filter ListFilter) ([]Movement, error)
}

type TxRepository interface {
	CreateMovement(ctx context.Context, m Movement) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateLineQty(ctx context.Context, lineID int64, requestedQty float64) error
	DeleteLine(ctx context.Context, lineID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetRequested(ctx context.Context, id int64, at time.Time) error
	SetApproved(ctx context.Context, id int64, by int64, at time.Time) error
	SetTransferInitiated(ctx context.Context, id int64, by int64, at time.Time) error
	SetExecuted(ctx context.Context, id int64, by int64, at time.Time) error
	SetLineApprovedQty(ctx context.Context, lineID int64, qty float64) error
	SetLineProvidedQty(ctx context.Context, lineID int64, qty float64) error
	ReplaceSelections(ctx context.Context, lineID int64, selections []Selection) error
	DeleteMovement(ctx context.Context, id int64) error
}

// LedgerPort is satisfied by ledger.Service. DeductSet re-checks every row
// under lock inside one transaction; that is the guard against competing
// movements.
type LedgerPort interface {
	Row(ctx context.Context, id int64) (ledger.Row, error)
	DeductSet(ctx context.Context, deductions []ledger.Deduction, actorID int64) ([]ledger.Row, error)
	ReceiveBatchSet(ctx context.Context, inputs []ledger.ReceiveInput) ([]ledger.Row, error)
}

type CatalogPort interface {
	Product(ctx context.Context, ref catalog.ProductRef) (catalog.Product, error)
}

type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

type ListFilter struct {
	Status           Status
	RequestingDeptID int64
	ProvidingDeptID  int64
	Pagination       shared.Pagination
}

// Service implements the inter-department movement workflow.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	catalog     CatalogPort
	idempotency IdempotencyPort
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(repo RepositoryPort, lg LedgerPort, cat CatalogPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: lg, catalog: cat, idempotency: idem, audit: audit, logger: logger, now: time.Now}
}

// CreateDraft opens a draft movement, optionally with initial lines.
func (s *Service) CreateDraft(ctx context.Context, in CreateInput, actorID int64) (Movement, error) {
	now := s.now()
	if in.Urgency == "" {
		in.Urgency = UrgencyRoutine
	}
	number := in.Number
	if number == "" {
		number = shared.DocumentNumber("MV", now)
	}
	m := Movement{
		Number:                number,
		RequestingDeptID:      in.RequestingDeptID,
		ProvidingDeptID:       in.ProvidingDeptID,
		SourceLocationID:      in.SourceLocationID,
		DestinationLocationID: in.DestinationLocationID,
		RequestedBy:           actorID,
		Status:                StatusDraft,
		Urgency:               in.Urgency,
		PrescriptionRef:       in.PrescriptionRef,
		PatientRef:            in.PatientRef,
		Note:                  in.Note,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	lines := make([]Line, 0, len(in.Lines))
	for _, li := range in.Lines {
		line, err := s.buildLine(ctx, li)
		if err != nil {
			return Movement{}, err
		}
		lines = append(lines, line)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateMovement(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		for i := range lines {
			lines[i].MovementID = id
			if _, err := tx.InsertLine(ctx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, actorID, "movement:CREATE", m.ID, nil, map[string]any{"status": m.Status, "number": m.Number})
	return m, nil
}

func (s *Service) buildLine(ctx context.Context, li LineInput) (Line, error) {
	if !li.Product.Valid() {
		return Line{}, fmt.Errorf("%w: %s", catalog.ErrInvalidRef, li.Product)
	}
	if li.RequestedQty <= 0 {
		return Line{}, fmt.Errorf("movement: requested quantity must be positive, got %v", li.RequestedQty)
	}
	if _, err := s.catalog.Product(ctx, li.Product); err != nil {
		return Line{}, err
	}
	return Line{Product: li.Product, Unit: li.Unit, RequestedQty: li.RequestedQty}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Movement, []Line, error) {
	return s.repo.GetMovement(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// AddItem appends a line while the movement is still a draft.
func (s *Service) AddItem(ctx context.Context, id int64, li LineInput, actorID int64) (Line, error) {
	m, _, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Line{}, err
	}
	if m.Status != StatusDraft {
		return Line{}, &InvalidStateError{Op: "add item to", Expected: []Status{StatusDraft}, Actual: m.Status}
	}
	line, err := s.buildLine(ctx, li)
	if err != nil {
		return Line{}, err
	}
	line.MovementID = m.ID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lineID, err := tx.InsertLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = lineID
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// UpdateItem changes a draft line's requested quantity.
func (s *Service) UpdateItem(ctx context.Context, id, lineID int64, requestedQty float64, actorID int64) error {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != StatusDraft {
		return &InvalidStateError{Op: "update item on", Expected: []Status{StatusDraft}, Actual: m.Status}
	}
	if requestedQty <= 0 {
		return fmt.Errorf("movement: requested quantity must be positive, got %v", requestedQty)
	}
	if !hasLine(lines, lineID) {
		return ErrLineNotFound
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateLineQty(ctx, lineID, requestedQty)
	})
}

// RemoveItem drops a draft line.
func (s *Service) RemoveItem(ctx context.Context, id, lineID int64, actorID int64) error {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != StatusDraft {
		return &InvalidStateError{Op: "remove item from", Expected: []Status{StatusDraft}, Actual: m.Status}
	}
	if !hasLine(lines, lineID) {
		return ErrLineNotFound
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteLine(ctx, lineID)
	})
}

func hasLine(lines []Line, lineID int64) bool {
	for _, ln := range lines {
		if ln.ID == lineID {
			return true
		}
	}
	return false
}

// Send submits the draft to the providing department. Regulated items demand
// a prescription reference before the request leaves the ward.
func (s *Service) Send(ctx context.Context, id, actorID int64) (Movement, error) {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if err := guard("send", m.Status, StatusPending); err != nil {
		return Movement{}, err
	}
	if len(lines) == 0 {
		return Movement{}, ErrEmptyMovement
	}
	if m.PrescriptionRef == "" {
		for _, ln := range lines {
			product, err := s.catalog.Product(ctx, ln.Product)
			if err != nil {
				return Movement{}, err
			}
			if product.Regulated {
				return Movement{}, fmt.Errorf("%w: %s", ErrPrescriptionRequired, product.Name)
			}
		}
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, m.ID, StatusPending); err != nil {
			return err
		}
		return tx.SetRequested(ctx, m.ID, now)
	})
	if err != nil {
		return Movement{}, err
	}
	m.Status = StatusPending
	m.RequestedAt = &now
	s.recordAudit(ctx, actorID, "movement:SEND", m.ID, map[string]any{"status": StatusDraft}, map[string]any{"status": StatusPending})
	return m, nil
}

// Approve accepts the request. Approved quantities default to the requested
// ones unless the approver overrides a line. The ledger stays untouched.
func (s *Service) Approve(ctx context.Context, id, actorID int64, approvedQuantities map[int64]float64) (Movement, error) {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if err := guard("approve", m.Status, StatusApproved); err != nil {
		return Movement{}, err
	}
	for lineID := range approvedQuantities {
		if !hasLine(lines, lineID) {
			return Movement{}, fmt.Errorf("%w: line %d", ErrLineNotFound, lineID)
		}
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, m.ID, StatusApproved); err != nil {
			return err
		}
		if err := tx.SetApproved(ctx, m.ID, actorID, now); err != nil {
			return err
		}
		for _, ln := range lines {
			qty := ln.RequestedQty
			if override, ok := approvedQuantities[ln.ID]; ok {
				if override < 0 {
					return fmt.Errorf("movement: approved quantity must be non-negative, got %v", override)
				}
				qty = override
			}
			if err := tx.SetLineApprovedQty(ctx, ln.ID, qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	m.Status = StatusApproved
	m.ApprovedBy = &actorID
	m.ApprovedAt = &now
	s.recordAudit(ctx, actorID, "movement:APPROVE", m.ID, map[string]any{"status": StatusPending}, map[string]any{"status": StatusApproved})
	return m, nil
}

// Reject declines a pending request.
func (s *Service) Reject(ctx context.Context, id, actorID int64, note string) (Movement, error) {
	m, _, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if err := guard("reject", m.Status, StatusRejected); err != nil {
		return Movement{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, m.ID, StatusRejected)
	})
	if err != nil {
		return Movement{}, err
	}
	m.Status = StatusRejected
	s.recordAudit(ctx, actorID, "movement:REJECT", m.ID, map[string]any{"status": StatusPending}, map[string]any{"status": StatusRejected, "note": note})
	return m, nil
}

// SelectInventory reserves specific ledger rows for one line, replacing any
// prior selections as a unit. Quantities are checked against each row's
// current balance; the check is advisory only, the binding one happens at
// transfer initialization.
func (s *Service) SelectInventory(ctx context.Context, id, lineID int64, selections []SelectionInput, actorID int64) (Line, error) {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Line{}, err
	}
	if m.Status != StatusApproved {
		return Line{}, &InvalidStateError{Op: "select inventory for", Expected: []Status{StatusApproved}, Actual: m.Status}
	}
	var line *Line
	for i := range lines {
		if lines[i].ID == lineID {
			line = &lines[i]
			break
		}
	}
	if line == nil {
		return Line{}, ErrLineNotFound
	}

	var total float64
	replacement := make([]Selection, 0, len(selections))
	for _, sel := range selections {
		if sel.Qty <= 0 {
			return Line{}, fmt.Errorf("movement: selection quantity must be positive, got %v", sel.Qty)
		}
		row, err := s.ledger.Row(ctx, sel.RowID)
		if err != nil {
			return Line{}, err
		}
		if row.Product != line.Product {
			return Line{}, fmt.Errorf("%w: row %d", ErrProductMismatch, row.ID)
		}
		if row.LocationID != m.SourceLocationID {
			return Line{}, fmt.Errorf("%w: row %d", ErrLocationMismatch, row.ID)
		}
		if sel.Qty > row.Qty {
			return Line{}, &InsufficientInventoryError{RowID: row.ID, Requested: sel.Qty, Available: row.Qty}
		}
		total += sel.Qty
		replacement = append(replacement, Selection{LineID: lineID, RowID: sel.RowID, Qty: sel.Qty})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ReplaceSelections(ctx, lineID, replacement); err != nil {
			return err
		}
		return tx.SetLineProvidedQty(ctx, lineID, total)
	})
	if err != nil {
		return Line{}, err
	}
	line.Selections = replacement
	line.ProvidedQty = &total
	s.recordAudit(ctx, actorID, "movement:SELECT", m.ID, nil, map[string]any{"line_id": lineID, "provided_qty": total, "selections": len(replacement)})
	return *line, nil
}

// InitializeTransfer deducts every selected row in one atomic unit. A row
// consumed by a competing movement in the meantime fails the whole call with
// the contested row named; nothing is partially deducted.
func (s *Service) InitializeTransfer(ctx context.Context, id, actorID int64) (Movement, error) {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if err := guard("initialize transfer for", m.Status, StatusInTransit); err != nil {
		return Movement{}, err
	}
	var deductions []ledger.Deduction
	for _, ln := range lines {
		for _, sel := range ln.Selections {
			deductions = append(deductions, ledger.Deduction{RowID: sel.RowID, Qty: sel.Qty})
		}
	}
	if len(deductions) == 0 {
		return Movement{}, ErrEmptyMovement
	}

	key := fmt.Sprintf("movement:%d:transfer", m.ID)
	if err := s.idempotency.CheckAndInsert(ctx, key, "movement"); err != nil {
		return Movement{}, err
	}

	if _, err := s.ledger.DeductSet(ctx, deductions, actorID); err != nil {
		s.releaseKey(ctx, key)
		return Movement{}, fmt.Errorf("movement %d: %w", m.ID, err)
	}

	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, m.ID, StatusInTransit); err != nil {
			return err
		}
		return tx.SetTransferInitiated(ctx, m.ID, actorID, now)
	})
	if err != nil {
		return Movement{}, err
	}
	m.Status = StatusInTransit
	m.TransferInitiatedBy = &actorID
	m.TransferInitiatedAt = &now
	s.recordAudit(ctx, actorID, "movement:TRANSFER_INIT", m.ID,
		map[string]any{"status": StatusApproved},
		map[string]any{"status": StatusInTransit, "deductions": len(deductions)})
	return m, nil
}

// ExecuteAtDestination records the moved quantities at the destination, one
// row per source batch so destination stock stays traceable to its origin.
// The whole set commits in one ledger transaction, and the idempotency key
// keeps a replayed execution from writing the rows twice.
func (s *Service) ExecuteAtDestination(ctx context.Context, id, actorID int64) (Movement, error) {
	m, lines, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if err := guard("execute", m.Status, StatusExecuted); err != nil {
		return Movement{}, err
	}
	sourceRef := strconv.FormatInt(m.ID, 10)
	var inputs []ledger.ReceiveInput
	for _, ln := range lines {
		for _, sel := range ln.Selections {
			row, err := s.ledger.Row(ctx, sel.RowID)
			if err != nil {
				return Movement{}, err
			}
			inputs = append(inputs, ledger.ReceiveInput{
				Product:      row.Product,
				LocationID:   m.DestinationLocationID,
				Qty:          sel.Qty,
				Unit:         row.Unit,
				Meta:         row.Meta(),
				Verified:     row.Verified,
				SourceModule: "movement",
				SourceRef:    sourceRef,
				ActorID:      actorID,
			})
		}
	}

	key := fmt.Sprintf("movement:%d:execute", m.ID)
	if err := s.idempotency.CheckAndInsert(ctx, key, "movement"); err != nil {
		return Movement{}, err
	}
	if _, err := s.ledger.ReceiveBatchSet(ctx, inputs); err != nil {
		s.releaseKey(ctx, key)
		return Movement{}, fmt.Errorf("movement: receive at destination for movement %d: %w", m.ID, err)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, m.ID, StatusExecuted); err != nil {
			return err
		}
		return tx.SetExecuted(ctx, m.ID, actorID, now)
	})
	if err != nil {
		return Movement{}, err
	}
	m.Status = StatusExecuted
	m.ExecutedBy = &actorID
	m.ExecutedAt = &now
	s.recordAudit(ctx, actorID, "movement:EXECUTE", m.ID,
		map[string]any{"status": StatusInTransit},
		map[string]any{"status": StatusExecuted})
	return m, nil
}

// Delete removes a draft, and only its creator may do so.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	m, _, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != StatusDraft {
		return &InvalidStateError{Op: "delete", Expected: []Status{StatusDraft}, Actual: m.Status}
	}
	if m.RequestedBy != actorID {
		return ErrNotCreator
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteMovement(ctx, m.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "movement:DELETE", m.ID, map[string]any{"status": StatusDraft}, nil)
	return nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, movementID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "movement",
		EntityID: strconv.FormatInt(movementID, 10),
		Before:   before,
		After:    after,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("movement_id", movementID), slog.Any("error", err))
	}
}
