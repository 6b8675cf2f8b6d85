package receiving

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/ledger"
	"github.com/meridian-his/meridian-his/internal/procurement"
	"github.com/meridian-his/meridian-his/internal/shared"
)

type memoryRepo struct {
	receipts map[int64]*Receipt
	lines    map[int64][]Line
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{receipts: map[int64]*Receipt{}, lines: map[int64][]Line{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetReceipt(_ context.Context, id int64) (Receipt, []Line, error) {
	rec, ok := m.receipts[id]
	if !ok {
		return Receipt{}, nil, ErrNotFound
	}
	return *rec, m.lines[id], nil
}

func (m *memoryRepo) ListReceipts(_ context.Context, filter ListFilter) ([]Receipt, error) {
	var out []Receipt
	for _, rec := range m.receipts {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memoryRepo) CreateReceipt(_ context.Context, rec Receipt) (int64, error) {
	id := m.nextID
	m.nextID++
	rec.ID = id
	m.receipts[id] = &rec
	return id, nil
}

func (m *memoryRepo) InsertLine(_ context.Context, line Line) (int64, error) {
	id := m.nextID
	m.nextID++
	line.ID = id
	// Only the line columns are stored; sub-batches arrive via InsertSubBatch.
	line.SubBatches = nil
	m.lines[line.ReceiptID] = append(m.lines[line.ReceiptID], line)
	return id, nil
}

func (m *memoryRepo) InsertSubBatch(_ context.Context, sb SubBatch) (int64, error) {
	id := m.nextID
	m.nextID++
	for receiptID, lines := range m.lines {
		for i := range lines {
			if lines[i].ID == sb.LineID {
				sb.ID = id
				lines[i].SubBatches = append(lines[i].SubBatches, sb)
				m.lines[receiptID] = lines
			}
		}
	}
	return id, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id int64, status Status) error {
	rec, ok := m.receipts[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	return nil
}

func (m *memoryRepo) SetValidated(_ context.Context, id int64, destinationID int64, by int64, at time.Time) error {
	rec := m.receipts[id]
	rec.DestinationID = &destinationID
	rec.ValidatedBy = &by
	rec.ValidatedAt = &at
	return nil
}

func (m *memoryRepo) SetTransferred(_ context.Context, id int64, by int64, at time.Time) error {
	rec := m.receipts[id]
	rec.TransferredBy = &by
	rec.TransferredAt = &at
	return nil
}

// fakeLedger records every materialized batch. A failing set records nothing,
// matching the single-transaction contract of the real ledger.
type fakeLedger struct {
	received []ledger.ReceiveInput
	fail     error
}

func (f *fakeLedger) ReceiveBatchSet(_ context.Context, inputs []ledger.ReceiveInput) ([]ledger.Row, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	rows := make([]ledger.Row, 0, len(inputs))
	for _, input := range inputs {
		f.received = append(f.received, input)
		rows = append(rows, ledger.Row{ID: int64(len(f.received)), Product: input.Product, LocationID: input.LocationID, Qty: input.Qty})
	}
	return rows, nil
}

type fakeCatalog struct {
	products  map[catalog.ProductRef]catalog.Product
	locations map[int64]catalog.StorageLocation
}

func (f *fakeCatalog) Product(_ context.Context, ref catalog.ProductRef) (catalog.Product, error) {
	p, ok := f.products[ref]
	if !ok {
		return catalog.Product{}, catalog.ErrReferentialIntegrity
	}
	return p, nil
}

func (f *fakeCatalog) Location(_ context.Context, id int64) (catalog.StorageLocation, error) {
	l, ok := f.locations[id]
	if !ok {
		return catalog.StorageLocation{}, catalog.ErrReferentialIntegrity
	}
	return l, nil
}

type fakeOrders struct {
	orders map[int64]procurement.Order
}

func (f *fakeOrders) Get(_ context.Context, id int64) (procurement.Order, []procurement.Line, error) {
	order, ok := f.orders[id]
	if !ok {
		return procurement.Order{}, nil, procurement.ErrNotFound
	}
	return order, nil, nil
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

func date(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func fixtureCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[catalog.ProductRef]catalog.Product{
			catalog.ClinicalRef(1): {Ref: catalog.ClinicalRef(1), Name: "Amoxicillin 500mg", Unit: "box", Active: true},
			catalog.ClinicalRef(3): {Ref: catalog.ClinicalRef(3), Name: "Morphine 10mg", Unit: "ampoule", Regulated: true, Active: true},
		},
		locations: map[int64]catalog.StorageLocation{
			10: {ID: 10, Name: "Central Pharmacy Vault", Class: catalog.ClassRegulatedVault},
			11: {ID: 11, Name: "Ward 3 Store", Class: catalog.ClassGeneral},
		},
	}
}

func fixtureOrders() *fakeOrders {
	return &fakeOrders{orders: map[int64]procurement.Order{
		1: {ID: 1, Number: "PO-1", Status: procurement.StatusConfirmed},
		2: {ID: 2, Number: "PO-2", Status: procurement.StatusDraft},
	}}
}

func newService(repo *memoryRepo, lg *fakeLedger) *Service {
	return NewService(repo, lg, fixtureCatalog(), fixtureOrders(), &memoryIdempotency{}, nopAudit{}, testLogger())
}

func receiptInput(lines ...LineInput) CreateInput {
	return CreateInput{Number: "GR-1", OrderID: 1, Lines: lines}
}

func plainLine(qty float64) LineInput {
	return LineInput{
		OrderLineID: 1,
		Product:     catalog.ClinicalRef(1),
		Qty:         qty,
		Unit:        "box",
		BatchNumber: "B-100",
		ExpiryDate:  date("2027-01-31"),
		UnitCost:    decimal.NewFromInt(25),
	}
}

func TestMaterializeLineFanOut(t *testing.T) {
	line := Line{
		ID:          1,
		Product:     catalog.ClinicalRef(1),
		Qty:         100,
		Unit:        "box",
		BatchNumber: "B-LINE",
		SubBatches: []SubBatch{
			{Qty: 40, BatchNumber: "B-1", ExpiryDate: date("2026-12-01")},
			{Qty: 35, BatchNumber: "B-2", ExpiryDate: date("2027-03-01")},
		},
	}

	// Sub-batches under the line total: one extra row for the remainder.
	inputs, err := MaterializeLine(line, 10, "1", 42)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	require.Equal(t, "B-LINE", inputs[2].Meta.BatchNumber)
	require.InDelta(t, 25, inputs[2].Qty, 1e-9)

	// Sub-batches matching the line total exactly: no remainder row.
	line.SubBatches = append(line.SubBatches, SubBatch{Qty: 25, BatchNumber: "B-3"})
	inputs, err = MaterializeLine(line, 10, "1", 42)
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	// No sub-batches: exactly one row with the line's own identity.
	line.SubBatches = nil
	inputs, err = MaterializeLine(line, 10, "1", 42)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, "B-LINE", inputs[0].Meta.BatchNumber)
	require.InDelta(t, 100, inputs[0].Qty, 1e-9)
}

func TestMaterializeLineOverflow(t *testing.T) {
	line := Line{ID: 1, Product: catalog.ClinicalRef(1), Qty: 50, SubBatches: []SubBatch{{Qty: 30}, {Qty: 30}}}
	_, err := MaterializeLine(line, 10, "1", 42)
	require.ErrorIs(t, err, ErrSubBatchOverflow)
}

func TestCreateRequiresConfirmedOrder(t *testing.T) {
	svc := newService(newMemoryRepo(), &fakeLedger{})
	in := receiptInput(plainLine(10))
	in.OrderID = 2

	_, err := svc.Create(context.Background(), in, 42)
	require.ErrorIs(t, err, ErrOrderNotConfirmed)
}

func TestValidateStorageClass(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, &fakeLedger{})
	regulated := plainLine(5)
	regulated.Product = catalog.ClinicalRef(3)
	receipt, err := svc.Create(context.Background(), receiptInput(regulated), 42)
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), receipt.ID, 11, 42)
	require.ErrorIs(t, err, ErrStorageClass, "regulated goods cannot rest in general storage")

	validated, err := svc.Validate(context.Background(), receipt.ID, 10, 42)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)
	require.NotNil(t, validated.DestinationID)
	require.Equal(t, int64(10), *validated.DestinationID)

	_, err = svc.Validate(context.Background(), receipt.ID, 10, 42)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTransferToStockMaterializes(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{}
	svc := newService(repo, lg)

	line := plainLine(100)
	line.SubBatches = []SubBatchInput{
		{Qty: 40, BatchNumber: "B-1", ExpiryDate: date("2026-12-01"), UnitCost: decimal.NewFromInt(24)},
		{Qty: 35, BatchNumber: "B-2", ExpiryDate: date("2027-03-01"), UnitCost: decimal.NewFromInt(26)},
	}
	receipt, err := svc.Create(context.Background(), receiptInput(line), 42)
	require.NoError(t, err)
	require.Len(t, repo.lines[receipt.ID][0].SubBatches, 2)
	_, err = svc.Validate(context.Background(), receipt.ID, 11, 42)
	require.NoError(t, err)

	transferred, err := svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusTransferred, transferred.Status)
	require.Len(t, lg.received, 3, "two sub-batches plus the remainder row")
	for _, input := range lg.received {
		require.Equal(t, int64(11), input.LocationID)
		require.Equal(t, "receiving", input.SourceModule)
	}

	// The guard survives the state check: a replay is refused before touching
	// the ledger.
	_, err = svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, lg.received, 3)
}

func TestTransferToStockReplayGuard(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{}
	idem := &memoryIdempotency{}
	svc := NewService(repo, lg, fixtureCatalog(), fixtureOrders(), idem, nopAudit{}, testLogger())

	receipt, err := svc.Create(context.Background(), receiptInput(plainLine(10)), 42)
	require.NoError(t, err)
	_, err = svc.Validate(context.Background(), receipt.ID, 11, 42)
	require.NoError(t, err)

	_, err = svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.NoError(t, err)

	// Simulate a replay racing the status update.
	repo.receipts[receipt.ID].Status = StatusValidated
	_, err = svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, lg.received, 1, "replay must not duplicate ledger rows")
}

func TestTransferFailureReleasesKey(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{fail: ledger.ErrBatchNumberRequired}
	idem := &memoryIdempotency{}
	svc := NewService(repo, lg, fixtureCatalog(), fixtureOrders(), idem, nopAudit{}, testLogger())

	receipt, err := svc.Create(context.Background(), receiptInput(plainLine(10)), 42)
	require.NoError(t, err)
	_, err = svc.Validate(context.Background(), receipt.ID, 11, 42)
	require.NoError(t, err)

	_, err = svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.ErrorIs(t, err, ledger.ErrBatchNumberRequired)

	// The failed run released its key, so the retry goes through.
	lg.fail = nil
	transferred, err := svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusTransferred, transferred.Status)
}

func TestTransferFailureLeavesNoRows(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{fail: ledger.ErrInvalidQuantity}
	idem := &memoryIdempotency{}
	svc := NewService(repo, lg, fixtureCatalog(), fixtureOrders(), idem, nopAudit{}, testLogger())

	line := plainLine(100)
	line.SubBatches = []SubBatchInput{
		{Qty: 40, BatchNumber: "B-1", ExpiryDate: date("2026-12-01")},
		{Qty: 35, BatchNumber: "B-2", ExpiryDate: date("2027-03-01")},
	}
	receipt, err := svc.Create(context.Background(), receiptInput(line), 42)
	require.NoError(t, err)
	_, err = svc.Validate(context.Background(), receipt.ID, 11, 42)
	require.NoError(t, err)

	_, err = svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
	require.Empty(t, lg.received, "a failed transfer must not leave partial rows")
	require.Equal(t, StatusValidated, repo.receipts[receipt.ID].Status)

	// The retry after the failure materializes every row exactly once.
	lg.fail = nil
	_, err = svc.TransferToStock(context.Background(), receipt.ID, 42)
	require.NoError(t, err)
	require.Len(t, lg.received, 3)
	seen := 0
	for _, input := range lg.received {
		if input.Meta.BatchNumber == "B-1" {
			seen++
		}
	}
	require.Equal(t, 1, seen, "batch B-1 must be recorded exactly once")
}

func TestCreateRequiresRegulatedBatchNumber(t *testing.T) {
	svc := newService(newMemoryRepo(), &fakeLedger{})

	regulated := plainLine(5)
	regulated.Product = catalog.ClinicalRef(3)
	regulated.BatchNumber = ""
	_, err := svc.Create(context.Background(), receiptInput(regulated), 42)
	require.ErrorIs(t, err, ledger.ErrBatchNumberRequired)

	// A sub-batch without batch identity is caught the same way.
	regulated = plainLine(10)
	regulated.Product = catalog.ClinicalRef(3)
	regulated.SubBatches = []SubBatchInput{{Qty: 10}}
	_, err = svc.Create(context.Background(), receiptInput(regulated), 42)
	require.ErrorIs(t, err, ledger.ErrBatchNumberRequired)
}
