package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/meridian-his/meridian-his/internal/jobs"
	"github.com/meridian-his/meridian-his/internal/ledger"
)

// ExpiryLedger is the slice of the batch ledger the sweep needs.
type ExpiryLedger interface {
	ExpiringRows(ctx context.Context, locationID int64, now time.Time) (map[ledger.ExpiryStatus][]ledger.Row, error)
	Horizon() time.Duration
}

// ExpiryScanJob sweeps storage locations for expired and expiring batches.
type ExpiryScanJob struct {
	Ledger  ExpiryLedger
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpiryScanJob initialises the expiry sweep handler.
func NewExpiryScanJob(lg ExpiryLedger, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{
		Ledger:  lg,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the expiry sweep.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	now := j.now()
	tracker := j.metrics().Track(TaskTypeExpiryScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	locations := payload.LocationIDs
	if len(locations) == 0 {
		ids, err := j.activeLocations(ctx)
		if err != nil {
			resultErr = err
			j.logger().Error("list storage locations", slog.Any("error", err))
			return resultErr
		}
		locations = ids
	}

	logger := j.logger().With(
		slog.Int("locations", len(locations)),
		slog.Duration("horizon", j.Ledger.Horizon()),
	)
	logger.Info("starting expiry scan")

	var expired, soon int64
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(4)
	results := make([]map[ledger.ExpiryStatus][]ledger.Row, len(locations))
	for i, locationID := range locations {
		grp.Go(func() error {
			grouped, err := j.Ledger.ExpiringRows(grpCtx, locationID, now)
			if err != nil {
				return err
			}
			results[i] = grouped
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		resultErr = err
		logger.Error("expiry scan failed", slog.Any("error", err))
		return resultErr
	}

	for i, grouped := range results {
		locationID := locations[i]
		for _, row := range grouped[ledger.ExpiryExpired] {
			expired++
			logger.Warn("batch expired",
				slog.Int64("row_id", row.ID),
				slog.Int64("location_id", locationID),
				slog.String("batch_number", row.BatchNumber),
				slog.Float64("quantity", row.Qty),
			)
		}
		soon += int64(len(grouped[ledger.ExpiryExpiringSoon]))
		j.metrics().AddExpiringRows(string(ledger.ExpiryExpired), locationID, len(grouped[ledger.ExpiryExpired]))
		j.metrics().AddExpiringRows(string(ledger.ExpiryExpiringSoon), locationID, len(grouped[ledger.ExpiryExpiringSoon]))
	}

	logger.Info("completed expiry scan",
		slog.Int64("expired", expired),
		slog.Int64("expiring_soon", soon),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *ExpiryScanJob) activeLocations(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("expiry scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT id FROM storage_locations WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *ExpiryScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
