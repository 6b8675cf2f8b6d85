package approval

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateRequest(ctx context.Context, request Request) (int64, error)
	UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus, decidedBy int64, decidedAt time.Time, note string) error
	SetOrderApprovalStatus(ctx context.Context, orderID int64, status OrderApprovalStatus) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction so the
// decision and the order status stamp commit as one unit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("approval repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListActiveApprovers returns approvers eligible for selection.
func (r *Repository) ListActiveApprovers(ctx context.Context) ([]Approver, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, max_amount, active FROM approvers WHERE active ORDER BY max_amount ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var approvers []Approver
	for rows.Next() {
		var a Approver
		if err := rows.Scan(&a.ID, &a.Name, &a.MaxAmount, &a.Active); err != nil {
			return nil, err
		}
		approvers = append(approvers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return approvers, nil
}

const requestColumns = `ar.id, ar.order_id, COALESCE(po.number, ''), ar.approver_id, ar.requester_id,
ar.amount, ar.status, ar.note, ar.created_at, COALESCE(ar.decided_by, 0), ar.decided_at`

// GetRequest fetches an approval request by ID.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests ar
LEFT JOIN purchase_orders po ON po.id = ar.order_id WHERE ar.id=$1`, id))
}

// GetPendingForOrder returns the single pending request for the order.
func (r *Repository) GetPendingForOrder(ctx context.Context, orderID int64) (Request, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests ar
LEFT JOIN purchase_orders po ON po.id = ar.order_id WHERE ar.order_id=$1 AND ar.status='PENDING' LIMIT 1`, orderID))
}

// HasApprovedRequest reports whether an approved request exists for the order.
func (r *Repository) HasApprovedRequest(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approval_requests WHERE order_id=$1 AND status='APPROVED')`, orderID).Scan(&exists)
	return exists, err
}

// ListPending lists pending requests, optionally for one approver.
func (r *Repository) ListPending(ctx context.Context, approverID int64) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests ar
LEFT JOIN purchase_orders po ON po.id = ar.order_id WHERE ar.status='PENDING'`
	args := []any{}
	if approverID > 0 {
		query += ` AND ar.approver_id=$1`
		args = append(args, approverID)
	}
	query += ` ORDER BY ar.created_at ASC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *txRepository) CreateRequest(ctx context.Context, request Request) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO approval_requests (order_id, approver_id, requester_id, amount, status, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		request.OrderID, request.ApproverID, request.RequesterID, request.Amount, string(request.Status), request.Note).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus, decidedBy int64, decidedAt time.Time, note string) error {
	// The status predicate makes the decision a compare-and-set: a request
	// decided by a competing call no longer matches and the update reports it.
	tag, err := r.tx.Exec(ctx, `UPDATE approval_requests SET status=$1, decided_by=$2, decided_at=$3, note=$4 WHERE id=$5 AND status='PENDING'`,
		string(status), decidedBy, decidedAt, note, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

func (r *txRepository) SetOrderApprovalStatus(ctx context.Context, orderID int64, status OrderApprovalStatus) error {
	// A favourable decision also advances the order lifecycle; every other
	// outcome leaves the lifecycle untouched.
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders
SET approval_status=$1,
    status = CASE WHEN $1 = 'APPROVED' AND status = 'PENDING_APPROVAL' THEN 'APPROVED' ELSE status END,
    updated_at=NOW()
WHERE id=$2`, string(status), orderID)
	return err
}

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(scanner requestScanner) (Request, error) {
	var request Request
	var status string
	err := scanner.Scan(&request.ID, &request.OrderID, &request.OrderNumber, &request.ApproverID, &request.RequesterID,
		&request.Amount, &status, &request.Note, &request.CreatedAt, &request.DecidedBy, &request.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	request.Status = RequestStatus(status)
	return request, nil
}
