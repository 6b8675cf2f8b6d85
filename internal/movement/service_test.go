package movement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/shared"
)

type memoryRepo struct {
	movements map[int64]*Movement
	lines     map[int64][]Line
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{movements: map[int64]*Movement{}, lines: map[int64][]Line{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetMovement(_ context.Context, id int64) (Movement, []Line, error) {
	mv, ok := m.movements[id]
	if !ok {
		return Movement{}, nil, ErrNotFound
	}
	lines := make([]Line, len(m.lines[id]))
	copy(lines, m.lines[id])
	return *mv, lines, nil
}

func (m *memoryRepo) ListMovements(_ context.Context, filter ListFilter) ([]Movement, error) {
	var out []Movement
	for _, mv := range m.movements {
		if filter.Status != "" && mv.Status != filter.Status {
			continue
		}
		out = append(out, *mv)
	}
	return out, nil
}

func (m *memoryRepo) CreateMovement(_ context.Context, mv Movement) (int64, error) {
	id := m.nextID
	m.nextID++
	mv.ID = id
	m.movements[id] = &mv
	return id, nil
}

func (m *memoryRepo) InsertLine(_ context.Context, line Line) (int64, error) {
	id := m.nextID
	m.nextID++
	line.ID = id
	m.lines[line.MovementID] = append(m.lines[line.MovementID], line)
	return id, nil
}

func (m *memoryRepo) line(lineID int64) *Line {
	for movementID, lines := range m.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				return &m.lines[movementID][i]
			}
		}
	}
	return nil
}

func (m *memoryRepo) UpdateLineQty(_ context.Context, lineID int64, qty float64) error {
	ln := m.line(lineID)
	if ln == nil {
		return ErrLineNotFound
	}
	ln.RequestedQty = qty
	return nil
}

func (m *memoryRepo) DeleteLine(_ context.Context, lineID int64) error {
	for movementID, lines := range m.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				m.lines[movementID] = append(lines[:i], lines[i+1:]...)
				return nil
			}
		}
	}
	return ErrLineNotFound
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	mv, ok := m.movements[id]
	if !ok {
		return ErrNotFound
	}
	mv.Status = status
	return nil
}

func (m *memoryRepo) SetRequested(_ context.Context, id int64, at time.Time) error {
	m.movements[id].RequestedAt = &at
	return nil
}

func (m *memoryRepo) SetApproved(_ context.Context, id int64, by int64, at time.Time) error {
	m.movements[id].ApprovedBy = &by
	m.movements[id].ApprovedAt = &at
	return nil
}

func (m *memoryRepo) SetTransferInitiated(_ context.Context, id int64, by int64, at time.Time) error {
	m.movements[id].TransferInitiatedBy = &by
	m.movements[id].TransferInitiatedAt = &at
	return nil
}

func (m *memoryRepo) SetExecuted(_ context.Context, id int64, by int64, at time.Time) error {
	m.movements[id].ExecutedBy = &by
	m.movements[id].ExecutedAt = &at
	return nil
}

func (m *memoryRepo) SetLineApprovedQty(_ context.Context, lineID int64, qty float64) error {
	ln := m.line(lineID)
	if ln == nil {
		return ErrLineNotFound
	}
	ln.ApprovedQty = &qty
	return nil
}

func (m *memoryRepo) SetLineProvidedQty(_ context.Context, lineID int64, qty float64) error {
	ln := m.line(lineID)
	if ln == nil {
		return ErrLineNotFound
	}
	ln.ProvidedQty = &qty
	return nil
}

func (m *memoryRepo) ReplaceSelections(_ context.Context, lineID int64, selections []Selection) error {
	ln := m.line(lineID)
	if ln == nil {
		return ErrLineNotFound
	}
	ln.Selections = selections
	return nil
}

func (m *memoryRepo) DeleteMovement(_ context.Context, id int64) error {
	delete(m.movements, id)
	delete(m.lines, id)
	return nil
}

// fakeLedger mimics the real ledger's all-or-nothing deduction: every row is
// checked before any row is decremented.
type fakeLedger struct {
	rows       map[int64]*ledger.Row
	nextID     int64
	receiveErr error
}

func newFakeLedger(rows ...ledger.Row) *fakeLedger {
	f := &fakeLedger{rows: map[int64]*ledger.Row{}, nextID: 1000}
	for i := range rows {
		r := rows[i]
		f.rows[r.ID] = &r
	}
	return f
}

func (f *fakeLedger) Row(_ context.Context, id int64) (ledger.Row, error) {
	row, ok := f.rows[id]
	if !ok {
		return ledger.Row{}, ledger.ErrRowNotFound
	}
	return *row, nil
}

func (f *fakeLedger) DeductSet(_ context.Context, deductions []ledger.Deduction, _ int64) ([]ledger.Row, error) {
	for _, d := range deductions {
		row, ok := f.rows[d.RowID]
		if !ok {
			return nil, ledger.ErrRowNotFound
		}
		if d.Qty > row.Qty {
			return nil, fmt.Errorf("row %d holds %v, need %v: %w", d.RowID, row.Qty, d.Qty, ledger.ErrInsufficientQuantity)
		}
	}
	var out []ledger.Row
	for _, d := range deductions {
		row := f.rows[d.RowID]
		row.Qty -= d.Qty
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeLedger) ReceiveBatchSet(_ context.Context, inputs []ledger.ReceiveInput) ([]ledger.Row, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	var out []ledger.Row
	for _, input := range inputs {
		f.nextID++
		row := ledger.Row{
			ID:           f.nextID,
			Product:      input.Product,
			LocationID:   input.LocationID,
			Qty:          input.Qty,
			Unit:         input.Unit,
			BatchNumber:  input.Meta.BatchNumber,
			SerialNumber: input.Meta.SerialNumber,
			ExpiryDate:   input.Meta.ExpiryDate,
			UnitCost:     input.Meta.UnitCost,
		}
		f.rows[row.ID] = &row
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeLedger) rowsAt(locationID int64) []ledger.Row {
	var out []ledger.Row
	for _, row := range f.rows {
		if row.LocationID == locationID {
			out = append(out, *row)
		}
	}
	return out
}

type fakeCatalog struct {
	products map[catalog.ProductRef]catalog.Product
}

func (f *fakeCatalog) Product(_ context.Context, ref catalog.ProductRef) (catalog.Product, error) {
	p, ok := f.products[ref]
	if !ok {
		return catalog.Product{}, catalog.ErrReferentialIntegrity
	}
	return p, nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, shared.AuditLog) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixtureCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[catalog.ProductRef]catalog.Product{
		catalog.ClinicalRef(1): {Ref: catalog.ClinicalRef(1), Name: "Paracetamol 500mg", Unit: "box", Active: true},
		catalog.ClinicalRef(3): {Ref: catalog.ClinicalRef(3), Name: "Morphine 10mg", Unit: "ampoule", Regulated: true, Active: true},
	}}
}

const (
	pharmacyLocation = int64(10)
	wardLocation     = int64(20)
)

func providerRows() []ledger.Row {
	return []ledger.Row{
		{ID: 1, Product: catalog.ClinicalRef(1), LocationID: pharmacyLocation, Qty: 60, Unit: "box", BatchNumber: "B-A", ExpiryDate: date("2026-10-01")},
		{ID: 2, Product: catalog.ClinicalRef(1), LocationID: pharmacyLocation, Qty: 50, Unit: "box", BatchNumber: "B-B", ExpiryDate: date("2027-02-01")},
	}
}

func date(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func newService(repo *memoryRepo, lg *fakeLedger) *Service {
	return NewService(repo, lg, fixtureCatalog(), &memoryIdempotency{}, nopAudit{}, testLogger())
}

func draftInput(lines ...LineInput) CreateInput {
	return CreateInput{
		Number:                "MV-1",
		RequestingDeptID:      2,
		ProvidingDeptID:       1,
		SourceLocationID:      pharmacyLocation,
		DestinationLocationID: wardLocation,
		Lines:                 lines,
	}
}

func paracetamolLine(qty float64) LineInput {
	return LineInput{Product: catalog.ClinicalRef(1), Unit: "box", RequestedQty: qty}
}

// approvedMovement drives a fresh movement to APPROVED and returns it with
// its single line.
func approvedMovement(t *testing.T, svc *Service, repo *memoryRepo, qty float64) (Movement, Line) {
	t.Helper()
	m, err := svc.CreateDraft(context.Background(), draftInput(paracetamolLine(qty)), 7)
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), m.ID, 7)
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), m.ID, 8, nil)
	require.NoError(t, err)
	mv, lines, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	return mv, lines[0]
}

func TestSendEmptyMovement(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger())
	m, err := svc.CreateDraft(context.Background(), draftInput(), 7)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), m.ID, 7)
	require.ErrorIs(t, err, ErrEmptyMovement)
}

func TestSendRegulatedRequiresPrescription(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger())
	in := draftInput(LineInput{Product: catalog.ClinicalRef(3), Unit: "ampoule", RequestedQty: 5})
	m, err := svc.CreateDraft(context.Background(), in, 7)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), m.ID, 7)
	require.ErrorIs(t, err, ErrPrescriptionRequired)

	in.PrescriptionRef = "RX-2031"
	m, err = svc.CreateDraft(context.Background(), in, 7)
	require.NoError(t, err)
	sent, err := svc.Send(context.Background(), m.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, sent.Status)
	require.NotNil(t, sent.RequestedAt)
}

func TestDraftItemMutations(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger())
	m, err := svc.CreateDraft(context.Background(), draftInput(), 7)
	require.NoError(t, err)

	line, err := svc.AddItem(context.Background(), m.ID, paracetamolLine(10), 7)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateItem(context.Background(), m.ID, line.ID, 25, 7))

	_, lines, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.InDelta(t, 25, lines[0].RequestedQty, 1e-9)

	require.NoError(t, svc.RemoveItem(context.Background(), m.ID, line.ID, 7))
	_, lines, err = svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.Empty(t, lines)

	// Past draft, items are frozen.
	_, err = svc.AddItem(context.Background(), m.ID, paracetamolLine(5), 7)
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), m.ID, 7)
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), m.ID, paracetamolLine(5), 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestApproveSetsQuantities(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger())
	m, err := svc.CreateDraft(context.Background(), draftInput(paracetamolLine(100)), 7)
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), m.ID, 7)
	require.NoError(t, err)

	_, lines, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	approved, err := svc.Approve(context.Background(), m.ID, 8, map[int64]float64{lines[0].ID: 80})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	_, lines, err = svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, lines[0].ApprovedQty)
	require.InDelta(t, 80, *lines[0].ApprovedQty, 1e-9)
}

func TestRejectFromPendingOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger())
	m, err := svc.CreateDraft(context.Background(), draftInput(paracetamolLine(10)), 7)
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), m.ID, 8, "not stocked")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Send(context.Background(), m.ID, 7)
	require.NoError(t, err)
	rejected, err := svc.Reject(context.Background(), m.ID, 8, "not stocked")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
}

func TestSelectInventory(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	svc := newService(repo, lg)
	m, line := approvedMovement(t, svc, repo, 100)

	selected, err := svc.SelectInventory(context.Background(), m.ID, line.ID,
		[]SelectionInput{{RowID: 1, Qty: 60}, {RowID: 2, Qty: 40}}, 8)
	require.NoError(t, err)
	require.NotNil(t, selected.ProvidedQty)
	require.InDelta(t, 100, *selected.ProvidedQty, 1e-9)
	require.Len(t, selected.Selections, 2)

	// Replacing is atomic: a fresh selection fully supersedes the old one.
	selected, err = svc.SelectInventory(context.Background(), m.ID, line.ID,
		[]SelectionInput{{RowID: 2, Qty: 30}}, 8)
	require.NoError(t, err)
	require.Len(t, selected.Selections, 1)
	require.InDelta(t, 30, *selected.ProvidedQty, 1e-9)
}

func TestSelectInventoryInsufficientNamesRow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger(providerRows()...))
	m, line := approvedMovement(t, svc, repo, 100)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID,
		[]SelectionInput{{RowID: 2, Qty: 55}}, 8)
	require.ErrorIs(t, err, ErrInsufficientInventory)

	var insufficient *InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(2), insufficient.RowID)
	require.InDelta(t, 50, insufficient.Available, 1e-9)
}

func TestSelectInventoryWrongRow(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(append(providerRows(),
		ledger.Row{ID: 3, Product: catalog.ClinicalRef(3), LocationID: pharmacyLocation, Qty: 10},
		ledger.Row{ID: 4, Product: catalog.ClinicalRef(1), LocationID: wardLocation, Qty: 10},
	)...)
	svc := newService(repo, lg)
	m, line := approvedMovement(t, svc, repo, 10)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID, []SelectionInput{{RowID: 3, Qty: 5}}, 8)
	require.ErrorIs(t, err, ErrProductMismatch)

	_, err = svc.SelectInventory(context.Background(), m.ID, line.ID, []SelectionInput{{RowID: 4, Qty: 5}}, 8)
	require.ErrorIs(t, err, ErrLocationMismatch)
}

func TestInitializeTransferAndExecute(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	svc := newService(repo, lg)
	m, line := approvedMovement(t, svc, repo, 100)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID,
		[]SelectionInput{{RowID: 1, Qty: 60}, {RowID: 2, Qty: 40}}, 8)
	require.NoError(t, err)

	inTransit, err := svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, inTransit.Status)
	require.NotNil(t, inTransit.TransferInitiatedAt)
	require.InDelta(t, 0, lg.rows[1].Qty, 1e-9)
	require.InDelta(t, 10, lg.rows[2].Qty, 1e-9)

	executed, err := svc.ExecuteAtDestination(context.Background(), m.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusExecuted, executed.Status)

	// One destination row per source batch, identity preserved.
	destRows := lg.rowsAt(wardLocation)
	require.Len(t, destRows, 2)
	var total float64
	batches := map[string]float64{}
	for _, row := range destRows {
		total += row.Qty
		batches[row.BatchNumber] = row.Qty
	}
	require.InDelta(t, 100, total, 1e-9)
	require.InDelta(t, 60, batches["B-A"], 1e-9)
	require.InDelta(t, 40, batches["B-B"], 1e-9)
}

func TestInitializeTransferRevalidates(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	svc := newService(repo, lg)
	m, line := approvedMovement(t, svc, repo, 60)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID, []SelectionInput{{RowID: 1, Qty: 60}}, 8)
	require.NoError(t, err)

	// Another consumer drains the row between selection and transfer.
	lg.rows[1].Qty = 20
	_, err = svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.ErrorIs(t, err, ledger.ErrInsufficientQuantity)
	require.InDelta(t, 20, lg.rows[1].Qty, 1e-9, "failed deduction leaves the row unchanged")

	// The movement is still APPROVED, so the transfer can be retried after a
	// reselect.
	mv, _, err := svc.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, mv.Status)
	_, err = svc.SelectInventory(context.Background(), m.ID, line.ID, []SelectionInput{{RowID: 1, Qty: 20}}, 8)
	require.NoError(t, err)
	_, err = svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.NoError(t, err)
}

func TestCompetingTransfers(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	svc := newService(repo, lg)

	first, firstLine := approvedMovement(t, svc, repo, 50)
	second, secondLine := approvedMovement(t, svc, repo, 50)

	_, err := svc.SelectInventory(context.Background(), first.ID, firstLine.ID, []SelectionInput{{RowID: 2, Qty: 50}}, 8)
	require.NoError(t, err)
	_, err = svc.SelectInventory(context.Background(), second.ID, secondLine.ID, []SelectionInput{{RowID: 2, Qty: 50}}, 8)
	require.NoError(t, err)

	_, err = svc.InitializeTransfer(context.Background(), first.ID, 8)
	require.NoError(t, err)

	_, err = svc.InitializeTransfer(context.Background(), second.ID, 8)
	require.ErrorIs(t, err, ledger.ErrInsufficientQuantity, "the loser gets the shortfall, never a silent partial fill")
	require.InDelta(t, 0, lg.rows[2].Qty, 1e-9)
}

func TestInitializeTransferReplayGuard(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	idem := &memoryIdempotency{}
	svc := NewService(repo, lg, fixtureCatalog(), idem, nopAudit{}, testLogger())
	m, line := approvedMovement(t, svc, repo, 30)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID, []SelectionInput{{RowID: 1, Qty: 30}}, 8)
	require.NoError(t, err)
	_, err = svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.NoError(t, err)

	// Simulate a replay racing the status update.
	repo.movements[m.ID].Status = StatusApproved
	_, err = svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.InDelta(t, 30, lg.rows[1].Qty, 1e-9, "replay must not deduct twice")
}

func TestExecuteReplayGuard(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	idem := &memoryIdempotency{}
	svc := NewService(repo, lg, fixtureCatalog(), idem, nopAudit{}, testLogger())
	m, line := approvedMovement(t, svc, repo, 100)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID,
		[]SelectionInput{{RowID: 1, Qty: 60}, {RowID: 2, Qty: 40}}, 8)
	require.NoError(t, err)
	_, err = svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.NoError(t, err)
	_, err = svc.ExecuteAtDestination(context.Background(), m.ID, 9)
	require.NoError(t, err)
	require.Len(t, lg.rowsAt(wardLocation), 2)

	// Simulate a replay racing the status update.
	repo.movements[m.ID].Status = StatusInTransit
	_, err = svc.ExecuteAtDestination(context.Background(), m.ID, 9)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, lg.rowsAt(wardLocation), 2, "replay must not duplicate destination rows")
}

func TestExecuteFailureLeavesNoRows(t *testing.T) {
	repo := newMemoryRepo()
	lg := newFakeLedger(providerRows()...)
	svc := newService(repo, lg)
	m, line := approvedMovement(t, svc, repo, 100)

	_, err := svc.SelectInventory(context.Background(), m.ID, line.ID,
		[]SelectionInput{{RowID: 1, Qty: 60}, {RowID: 2, Qty: 40}}, 8)
	require.NoError(t, err)
	_, err = svc.InitializeTransfer(context.Background(), m.ID, 8)
	require.NoError(t, err)

	lg.receiveErr = ledger.ErrInvalidQuantity
	_, err = svc.ExecuteAtDestination(context.Background(), m.ID, 9)
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
	require.Empty(t, lg.rowsAt(wardLocation), "a failed execution must not leave partial rows")
	require.Equal(t, StatusInTransit, repo.movements[m.ID].Status)

	// The failed run released its key, so the retry lands the whole set once.
	lg.receiveErr = nil
	executed, err := svc.ExecuteAtDestination(context.Background(), m.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusExecuted, executed.Status)
	require.Len(t, lg.rowsAt(wardLocation), 2)
}

func TestDeleteDraftByCreatorOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, newFakeLedger())
	m, err := svc.CreateDraft(context.Background(), draftInput(paracetamolLine(5)), 7)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), m.ID, 9)
	require.ErrorIs(t, err, ErrNotCreator)

	require.NoError(t, svc.Delete(context.Background(), m.ID, 7))
	_, _, err = svc.Get(context.Background(), m.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
