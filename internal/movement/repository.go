package movement

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

const movementColumns = `id, number, requesting_dept_id, providing_dept_id, source_location_id, destination_location_id,
requested_by, status, urgency, prescription_ref, patient_ref, note, created_at, updated_at, requested_at,
approved_by, approved_at, transfer_initiated_by, transfer_initiated_at, executed_by, executed_at`

func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, []Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id = $1`, id)
	m, err := scanMovement(row)
	if err != nil {
		return Movement{}, nil, err
	}
	lines, err := r.lines(ctx, id)
	if err != nil {
		return Movement{}, nil, err
	}
	return m, lines, nil
}

func (r *Repository) lines(ctx context.Context, movementID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, movement_id, product_kind, product_id, unit, requested_qty, approved_qty, provided_qty
		FROM movement_lines
		WHERE movement_id = $1
		ORDER BY id`, movementID)
	if err != nil {
		return nil, fmt.Errorf("movement: list lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	index := map[int64]int{}
	for rows.Next() {
		var ln Line
		if err := rows.Scan(&ln.ID, &ln.MovementID, &ln.Product.Kind, &ln.Product.ID, &ln.Unit,
			&ln.RequestedQty, &ln.ApprovedQty, &ln.ProvidedQty); err != nil {
			return nil, fmt.Errorf("movement: scan line: %w", err)
		}
		index[ln.ID] = len(lines)
		lines = append(lines, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	selRows, err := r.pool.Query(ctx, `
		SELECT s.id, s.line_id, s.row_id, s.qty
		FROM inventory_selections s
		JOIN movement_lines l ON l.id = s.line_id
		WHERE l.movement_id = $1
		ORDER BY s.id`, movementID)
	if err != nil {
		return nil, fmt.Errorf("movement: list selections: %w", err)
	}
	defer selRows.Close()

	for selRows.Next() {
		var sel Selection
		if err := selRows.Scan(&sel.ID, &sel.LineID, &sel.RowID, &sel.Qty); err != nil {
			return nil, fmt.Errorf("movement: scan selection: %w", err)
		}
		if i, ok := index[sel.LineID]; ok {
			lines[i].Selections = append(lines[i].Selections, sel)
		}
	}
	return lines, selRows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, filter ListFilter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movements WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.RequestingDeptID != 0 {
		args = append(args, filter.RequestingDeptID)
		query += fmt.Sprintf(" AND requesting_dept_id = $%d", len(args))
	}
	if filter.ProvidingDeptID != 0 {
		args = append(args, filter.ProvidingDeptID)
		query += fmt.Sprintf(" AND providing_dept_id = $%d", len(args))
	}
	args = append(args, filter.Pagination.Limit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Pagination.Offset())
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("movement: list movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) CreateMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO movements (number, requesting_dept_id, providing_dept_id, source_location_id,
			destination_location_id, requested_by, status, urgency, prescription_ref, patient_ref, note,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id`,
		m.Number, m.RequestingDeptID, m.ProvidingDeptID, m.SourceLocationID, m.DestinationLocationID,
		m.RequestedBy, m.Status, m.Urgency, m.PrescriptionRef, m.PatientRef, m.Note, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("movement: create movement: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO movement_lines (movement_id, product_kind, product_id, unit, requested_qty)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		line.MovementID, line.Product.Kind, line.Product.ID, line.Unit, line.RequestedQty,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("movement: insert line: %w", err)
	}
	return id, nil
}

func (t *txRepository) UpdateLineQty(ctx context.Context, lineID int64, requestedQty float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE movement_lines SET requested_qty = $1 WHERE id = $2`, requestedQty, lineID)
	if err != nil {
		return fmt.Errorf("movement: update line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (t *txRepository) DeleteLine(ctx context.Context, lineID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM inventory_selections WHERE line_id = $1`, lineID); err != nil {
		return fmt.Errorf("movement: delete selections: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM movement_lines WHERE id = $1`, lineID); err != nil {
		return fmt.Errorf("movement: delete line: %w", err)
	}
	return nil
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE movements SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("movement: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) SetRequested(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE movements SET requested_at = $1 WHERE id = $2`, at, id)
	return err
}

func (t *txRepository) SetApproved(ctx context.Context, id int64, by int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE movements SET approved_by = $1, approved_at = $2 WHERE id = $3`, by, at, id)
	return err
}

func (t *txRepository) SetTransferInitiated(ctx context.Context, id int64, by int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE movements SET transfer_initiated_by = $1, transfer_initiated_at = $2 WHERE id = $3`, by, at, id)
	return err
}

func (t *txRepository) SetExecuted(ctx context.Context, id int64, by int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE movements SET executed_by = $1, executed_at = $2 WHERE id = $3`, by, at, id)
	return err
}

func (t *txRepository) SetLineApprovedQty(ctx context.Context, lineID int64, qty float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE movement_lines SET approved_qty = $1 WHERE id = $2`, qty, lineID)
	return err
}

func (t *txRepository) SetLineProvidedQty(ctx context.Context, lineID int64, qty float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE movement_lines SET provided_qty = $1 WHERE id = $2`, qty, lineID)
	return err
}

func (t *txRepository) ReplaceSelections(ctx context.Context, lineID int64, selections []Selection) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM inventory_selections WHERE line_id = $1`, lineID); err != nil {
		return fmt.Errorf("movement: clear selections: %w", err)
	}
	for _, sel := range selections {
		_, err := t.tx.Exec(ctx, `INSERT INTO inventory_selections (line_id, row_id, qty) VALUES ($1, $2, $3)`,
			lineID, sel.RowID, sel.Qty)
		if err != nil {
			return fmt.Errorf("movement: insert selection: %w", err)
		}
	}
	return nil
}

func (t *txRepository) DeleteMovement(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM inventory_selections WHERE line_id IN (SELECT id FROM movement_lines WHERE movement_id = $1)`, id); err != nil {
		return fmt.Errorf("movement: delete selections: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM movement_lines WHERE movement_id = $1`, id); err != nil {
		return fmt.Errorf("movement: delete lines: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM movements WHERE id = $1`, id); err != nil {
		return fmt.Errorf("movement: delete movement: %w", err)
	}
	return nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.Number, &m.RequestingDeptID, &m.ProvidingDeptID, &m.SourceLocationID,
		&m.DestinationLocationID, &m.RequestedBy, &m.Status, &m.Urgency, &m.PrescriptionRef, &m.PatientRef,
		&m.Note, &m.CreatedAt, &m.UpdatedAt, &m.RequestedAt, &m.ApprovedBy, &m.ApprovedAt,
		&m.TransferInitiatedBy, &m.TransferInitiatedAt, &m.ExecutedBy, &m.ExecutedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrNotFound
	}
	if err != nil {
		return Movement{}, fmt.Errorf("movement: scan movement: %w", err)
	}
	return m, nil
}
