package procurement

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

const orderColumns = `id, number, supplier_id, status, approval_status, note, created_by, created_at, updated_at, confirmed_by, confirmed_at`

func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, []Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		return Order{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_kind, product_id, description, qty, approved_qty, unit_price, status
		FROM purchase_order_lines
		WHERE order_id = $1
		ORDER BY id`, id)
	if err != nil {
		return Order{}, nil, fmt.Errorf("procurement: list lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var ln Line
		if err := rows.Scan(&ln.ID, &ln.OrderID, &ln.Product.Kind, &ln.Product.ID, &ln.Description, &ln.Qty, &ln.ApprovedQty, &ln.UnitPrice, &ln.Status); err != nil {
			return Order{}, nil, fmt.Errorf("procurement: scan line: %w", err)
		}
		lines = append(lines, ln)
	}
	return order, lines, rows.Err()
}

func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		query += fmt.Sprintf(" AND supplier_id = $%d", len(args))
	}
	args = append(args, filter.Pagination.Limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Pagination.Offset())
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("procurement: list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) CreateOrder(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (number, supplier_id, status, approval_status, note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		order.Number, order.SupplierID, order.Status, order.ApprovalStatus, order.Note, order.CreatedBy, order.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: create order: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_order_lines (order_id, product_kind, product_id, description, qty, unit_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		line.OrderID, line.Product.Kind, line.Product.ID, line.Description, line.Qty, line.UnitPrice, line.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("procurement: insert line: %w", err)
	}
	return id, nil
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("procurement: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) SetConfirmed(ctx context.Context, id int64, by int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET confirmed_by = $1, confirmed_at = $2 WHERE id = $3`, by, at, id)
	if err != nil {
		return fmt.Errorf("procurement: set confirmed: %w", err)
	}
	return nil
}

func (t *txRepository) ConfirmLine(ctx context.Context, lineID int64, approvedQty float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET status = $1, approved_qty = $2 WHERE id = $3`,
		LineConfirmed, approvedQty, lineID)
	if err != nil {
		return fmt.Errorf("procurement: confirm line: %w", err)
	}
	return nil
}

func (t *txRepository) CancelLines(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET status = $1 WHERE order_id = $2`, LineCancelled, orderID)
	if err != nil {
		return fmt.Errorf("procurement: cancel lines: %w", err)
	}
	return nil
}

func (t *txRepository) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("procurement: delete lines: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("procurement: delete order: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.SupplierID, &o.Status, &o.ApprovalStatus, &o.Note,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &o.ConfirmedBy, &o.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("procurement: scan order: %w", err)
	}
	return o, nil
}
