package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/catalog"
	"github.com/meridian-his/meridian-his/internal/platform/db"
)

// Repository persists ledger rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertRow(ctx context.Context, row Row) (int64, error)
	GetRowForUpdate(ctx context.Context, id int64) (Row, error)
	UpdateRowQty(ctx context.Context, id int64, qty float64) error
	ListTopUpCandidates(ctx context.Context, product catalog.ProductRef, locationID int64) ([]Row, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const rowColumns = `id, product_kind, product_id, location_id, qty, unit, batch_number, serial_number,
expiry_date, unit_cost, verified, quality_checked, source_module, source_ref, created_at, updated_at`

// GetRow fetches one row by ID.
func (r *Repository) GetRow(ctx context.Context, id int64) (Row, error) {
	return scanRow(r.pool.QueryRow(ctx, `SELECT `+rowColumns+` FROM ledger_rows WHERE id=$1`, id))
}

// ListRows returns the rows for a product at a location, soonest expiry
// first so callers can fulfil oldest-expiry-first.
func (r *Repository) ListRows(ctx context.Context, product catalog.ProductRef, locationID int64) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rowColumns+` FROM ledger_rows
WHERE product_kind=$1 AND product_id=$2 AND location_id=$3
ORDER BY expiry_date ASC NULLS LAST, id ASC`, string(product.Kind), product.ID, locationID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// ListBySource returns the rows a module/reference materialised.
func (r *Repository) ListBySource(ctx context.Context, module, ref string) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rowColumns+` FROM ledger_rows
WHERE source_module=$1 AND source_ref=$2 ORDER BY id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// SumAvailable totals quantities according to the requested view.
func (r *Repository) SumAvailable(ctx context.Context, product catalog.ProductRef, locationID int64, opts AvailabilityOpts) (float64, error) {
	query := `SELECT COALESCE(SUM(qty), 0) FROM ledger_rows
WHERE product_kind=$1 AND product_id=$2 AND location_id=$3`
	if !opts.IncludeExpired {
		query += ` AND (expiry_date IS NULL OR expiry_date >= NOW())`
	}
	if !opts.IncludeZero {
		query += ` AND qty > 0`
	}
	var total float64
	err := r.pool.QueryRow(ctx, query, string(product.Kind), product.ID, locationID).Scan(&total)
	return total, err
}

// ListExpiring returns non-zero rows at the location with an expiry date
// before the cutoff.
func (r *Repository) ListExpiring(ctx context.Context, locationID int64, before time.Time) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rowColumns+` FROM ledger_rows
WHERE location_id=$1 AND qty > 0 AND expiry_date IS NOT NULL AND expiry_date <= $2
ORDER BY expiry_date ASC, id ASC`, locationID, before)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (r *txRepository) InsertRow(ctx context.Context, row Row) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_rows (product_kind, product_id, location_id, qty, unit, batch_number,
serial_number, expiry_date, unit_cost, verified, quality_checked, source_module, source_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW()) RETURNING id`,
		string(row.Product.Kind), row.Product.ID, row.LocationID, row.Qty, row.Unit, row.BatchNumber,
		row.SerialNumber, row.ExpiryDate, row.UnitCost, row.Verified, row.QualityChecked, row.SourceModule, row.SourceRef).
		Scan(&id)
	return id, err
}

func (r *txRepository) GetRowForUpdate(ctx context.Context, id int64) (Row, error) {
	return scanRow(r.tx.QueryRow(ctx, `SELECT `+rowColumns+` FROM ledger_rows WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateRowQty(ctx context.Context, id int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE ledger_rows SET qty=$1, updated_at=NOW() WHERE id=$2`, qty, id)
	return err
}

func (r *txRepository) ListTopUpCandidates(ctx context.Context, product catalog.ProductRef, locationID int64) ([]Row, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+rowColumns+` FROM ledger_rows
WHERE product_kind=$1 AND product_id=$2 AND location_id=$3 ORDER BY id ASC FOR UPDATE`,
		string(product.Kind), product.ID, locationID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(scanner rowScanner) (Row, error) {
	var row Row
	var kind string
	err := scanner.Scan(&row.ID, &kind, &row.Product.ID, &row.LocationID, &row.Qty, &row.Unit,
		&row.BatchNumber, &row.SerialNumber, &row.ExpiryDate, &row.UnitCost, &row.Verified,
		&row.QualityChecked, &row.SourceModule, &row.SourceRef, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, ErrRowNotFound
		}
		return Row{}, err
	}
	row.Product.Kind = catalog.ProductKind(kind)
	return row, nil
}

func collectRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var result []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
