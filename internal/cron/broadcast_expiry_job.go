package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/stockroom-hq/stockroom-backend/internal/fulfillment"
	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
)

const expirySweepBatchSize = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type dueBroadcastReader interface {
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.RoutingBroadcast, error)
}

type broadcastTimeoutHandler interface {
	HandleBroadcastTimeout(ctx context.Context, broadcastID uuid.UUID) (*fulfillment.TimeoutDecision, error)
}

// BroadcastExpiryJobParams configure the broadcast expiry sweeper.
type BroadcastExpiryJobParams struct {
	Logger      *logger.Logger
	Reader      dueBroadcastReader
	Fulfillment broadcastTimeoutHandler
	BatchSize   int
}

// NewBroadcastExpiryJob builds the cron job that expires overdue routing
// broadcasts and drives the re-broadcast-or-fail decision for each.
func NewBroadcastExpiryJob(params BroadcastExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("broadcast reader required")
	}
	if params.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = expirySweepBatchSize
	}
	return &broadcastExpiryJob{
		logg:        params.Logger,
		reader:      params.Reader,
		fulfillment: params.Fulfillment,
		batchSize:   batchSize,
		now:         time.Now,
	}, nil
}

type broadcastExpiryJob struct {
	logg        *logger.Logger
	reader      dueBroadcastReader
	fulfillment broadcastTimeoutHandler
	batchSize   int
	now         func() time.Time
}

func (j *broadcastExpiryJob) Name() string { return "broadcast-expiry" }

func (j *broadcastExpiryJob) Run(ctx context.Context) error {
	due, err := j.reader.ListDueForExpiry(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		return fmt.Errorf("query due broadcasts: %w", err)
	}

	var errs []error
	expired, rebroadcast, failed := 0, 0, 0
	for _, broadcast := range due {
		decision, err := j.fulfillment.HandleBroadcastTimeout(ctx, broadcast.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("broadcast %s: %w", broadcast.ID, err))
			continue
		}
		if decision.Expired {
			expired++
		}
		if decision.Rebroadcasted {
			rebroadcast++
		}
		if decision.OrderFailed {
			failed++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":           len(due),
		"expired":       expired,
		"rebroadcast":   rebroadcast,
		"orders_failed": failed,
	})
	j.logg.Info(logCtx, "broadcast expiry sweep complete")
	return multierr.Combine(errs...)
}
