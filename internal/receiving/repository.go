package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/platform/db"
)

// Repository is the pgx-backed implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const receiptColumns = `id, number, order_id, status, destination_id, note, created_by, created_at, updated_at,
validated_by, validated_at, transferred_by, transferred_at`

func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, []Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id = $1`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		return Receipt{}, nil, err
	}
	lines, err := r.lines(ctx, id)
	if err != nil {
		return Receipt{}, nil, err
	}
	return receipt, lines, nil
}

func (r *Repository) lines(ctx context.Context, receiptID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, receipt_id, order_line_id, product_kind, product_id, qty, unit,
		       batch_number, serial_number, expiry_date, unit_cost
		FROM goods_receipt_lines
		WHERE receipt_id = $1
		ORDER BY id`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("receiving: list lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	index := map[int64]int{}
	for rows.Next() {
		var ln Line
		if err := rows.Scan(&ln.ID, &ln.ReceiptID, &ln.OrderLineID, &ln.Product.Kind, &ln.Product.ID,
			&ln.Qty, &ln.Unit, &ln.BatchNumber, &ln.SerialNumber, &ln.ExpiryDate, &ln.UnitCost); err != nil {
			return nil, fmt.Errorf("receiving: scan line: %w", err)
		}
		index[ln.ID] = len(lines)
		lines = append(lines, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sbRows, err := r.pool.Query(ctx, `
		SELECT sb.id, sb.line_id, sb.qty, sb.batch_number, sb.serial_number, sb.expiry_date, sb.unit_cost
		FROM goods_receipt_sub_batches sb
		JOIN goods_receipt_lines l ON l.id = sb.line_id
		WHERE l.receipt_id = $1
		ORDER BY sb.id`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("receiving: list sub-batches: %w", err)
	}
	defer sbRows.Close()

	for sbRows.Next() {
		var sb SubBatch
		if err := sbRows.Scan(&sb.ID, &sb.LineID, &sb.Qty, &sb.BatchNumber, &sb.SerialNumber, &sb.ExpiryDate, &sb.UnitCost); err != nil {
			return nil, fmt.Errorf("receiving: scan sub-batch: %w", err)
		}
		if i, ok := index[sb.LineID]; ok {
			lines[i].SubBatches = append(lines[i].SubBatches, sb)
		}
	}
	return lines, sbRows.Err()
}

func (r *Repository) ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM goods_receipts WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.OrderID != 0 {
		args = append(args, filter.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	args = append(args, filter.Pagination.Limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Pagination.Offset())
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("receiving: list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) CreateReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipts (number, order_id, status, note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`,
		receipt.Number, receipt.OrderID, receipt.Status, receipt.Note, receipt.CreatedBy, receipt.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("receiving: create receipt: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipt_lines (receipt_id, order_line_id, product_kind, product_id, qty, unit,
			batch_number, serial_number, expiry_date, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		line.ReceiptID, line.OrderLineID, line.Product.Kind, line.Product.ID, line.Qty, line.Unit,
		line.BatchNumber, line.SerialNumber, line.ExpiryDate, line.UnitCost,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("receiving: insert line: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertSubBatch(ctx context.Context, sb SubBatch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipt_sub_batches (line_id, qty, batch_number, serial_number, expiry_date, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		sb.LineID, sb.Qty, sb.BatchNumber, sb.SerialNumber, sb.ExpiryDate, sb.UnitCost,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("receiving: insert sub-batch: %w", err)
	}
	return id, nil
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("receiving: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) SetValidated(ctx context.Context, id int64, destinationID int64, by int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET destination_id = $1, validated_by = $2, validated_at = $3 WHERE id = $4`,
		destinationID, by, at, id)
	if err != nil {
		return fmt.Errorf("receiving: set validated: %w", err)
	}
	return nil
}

func (t *txRepository) SetTransferred(ctx context.Context, id int64, by int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET transferred_by = $1, transferred_at = $2 WHERE id = $3`, by, at, id)
	if err != nil {
		return fmt.Errorf("receiving: set transferred: %w", err)
	}
	return nil
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rec Receipt
	err := row.Scan(&rec.ID, &rec.Number, &rec.OrderID, &rec.Status, &rec.DestinationID, &rec.Note,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.ValidatedBy, &rec.ValidatedAt, &rec.TransferredBy, &rec.TransferredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("receiving: scan receipt: %w", err)
	}
	return rec, nil
}
