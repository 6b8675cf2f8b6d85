// Package audit exposes the read side of the audit trail. Writing happens at
// the workflow services through shared.AuditLogger; this package only answers
// "who did what to this order or movement".
package audit

import (
	"context"
	"errors"
	"strconv"

	"github.com/meridian-his/meridian-his/internal/shared"
)

// Entity names the auditable subjects.
const (
	EntityPurchaseOrder = "purchase_order"
	EntityGoodsReceipt  = "goods_receipt"
	EntityMovement      = "movement"
	EntityLedgerRow     = "ledger_row"
)

// ErrUnknownEntity indicates a trail request for a subject this module does
// not audit.
var ErrUnknownEntity = errors.New("audit: unknown entity")

var knownEntities = map[string]bool{
	EntityPurchaseOrder: true,
	EntityGoodsReceipt:  true,
	EntityMovement:      true,
	EntityLedgerRow:     true,
}

// TrailPort is satisfied by shared.AuditLogger.
type TrailPort interface {
	ListForEntity(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// Service answers audit trail queries.
type Service struct {
	trail TrailPort
}

func NewService(trail TrailPort) *Service {
	return &Service{trail: trail}
}

// Trail returns the ordered trail for one subject, oldest first.
func (s *Service) Trail(ctx context.Context, entity string, entityID int64, limit int) ([]shared.AuditLog, error) {
	if !knownEntities[entity] {
		return nil, ErrUnknownEntity
	}
	return s.trail.ListForEntity(ctx, entity, strconv.FormatInt(entityID, 10), limit)
}
