package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	dbtypes "github.com/stockroom-hq/stockroom-backend/pkg/db/types"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// Repository manages persistence for routing broadcasts, supplier responses
// and cancellation notices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, broadcast *models.RoutingBroadcast) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RoutingBroadcast, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.RoutingBroadcast, error)
	LockWinner(ctx context.Context, id, supplierID uuid.UUID) (int64, error)
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)
	Reopen(ctx context.Context, id uuid.UUID, suppliers dbtypes.UUIDArray, expiresAt time.Time, maxAttempts int) (int64, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.RoutingBroadcast, error)
	InsertResponse(ctx context.Context, response *models.SupplierResponse) error
	DeleteResponses(ctx context.Context, broadcastID uuid.UUID) error
	FindResponse(ctx context.Context, broadcastID, supplierID uuid.UUID) (*models.SupplierResponse, error)
	ListResponses(ctx context.Context, broadcastID uuid.UUID) ([]models.SupplierResponse, error)
	InsertCancellation(ctx context.Context, notice *models.CancellationNotice) error
	ListCancellations(ctx context.Context, broadcastID uuid.UUID) ([]models.CancellationNotice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a routing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, broadcast *models.RoutingBroadcast) error {
	return r.db.WithContext(ctx).Create(broadcast).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RoutingBroadcast, error) {
	var broadcast models.RoutingBroadcast
	err := r.db.WithContext(ctx).
		Preload("Responses").
		First(&broadcast, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &broadcast, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.RoutingBroadcast, error) {
	var broadcast models.RoutingBroadcast
	err := r.db.WithContext(ctx).
		Preload("Responses").
		First(&broadcast, "order_id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &broadcast, nil
}

// LockWinner is the race-critical write: the guard admits exactly one caller
// no matter how many race on the same broadcast, and the status predicate
// keeps a concurrently expired round from being locked after the fact.
func (r *repository) LockWinner(ctx context.Context, id, supplierID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.RoutingBroadcast{}).
		Where("id = ? AND locked_supplier_id IS NULL AND status = ?", id, enums.BroadcastStatusPending).
		Updates(map[string]any{
			"locked_supplier_id": supplierID,
			"status":             enums.BroadcastStatusLocked,
		})
	return result.RowsAffected, result.Error
}

func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.RoutingBroadcast{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, enums.BroadcastStatusPending, now).
		Update("status", enums.BroadcastStatusExpired)
	return result.RowsAffected, result.Error
}

// Reopen starts the next routing round on an expired broadcast, bounded by
// the attempt cap.
func (r *repository) Reopen(ctx context.Context, id uuid.UUID, suppliers dbtypes.UUIDArray, expiresAt time.Time, maxAttempts int) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.RoutingBroadcast{}).
		Where("id = ? AND status = ? AND attempt < ?", id, enums.BroadcastStatusExpired, maxAttempts).
		Updates(map[string]any{
			"status":             enums.BroadcastStatusPending,
			"eligible_suppliers": suppliers,
			"expires_at":         expiresAt,
			"attempt":            gorm.Expr("attempt + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *repository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.RoutingBroadcast, error) {
	var broadcasts []models.RoutingBroadcast
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.BroadcastStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&broadcasts).Error
	if err != nil {
		return nil, err
	}
	return broadcasts, nil
}

func (r *repository) InsertResponse(ctx context.Context, response *models.SupplierResponse) error {
	return r.db.WithContext(ctx).Create(response).Error
}

// DeleteResponses drops every response tied to the broadcast. Run together
// with Reopen so the next round starts with a clean slate.
func (r *repository) DeleteResponses(ctx context.Context, broadcastID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Delete(&models.SupplierResponse{}).Error
}

func (r *repository) FindResponse(ctx context.Context, broadcastID, supplierID uuid.UUID) (*models.SupplierResponse, error) {
	var response models.SupplierResponse
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ? AND supplier_id = ?", broadcastID, supplierID).
		First(&response).Error
	if err != nil {
		return nil, err
	}
	return &response, nil
}

func (r *repository) ListResponses(ctx context.Context, broadcastID uuid.UUID) ([]models.SupplierResponse, error) {
	var responses []models.SupplierResponse
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Order("responded_at ASC").
		Find(&responses).Error
	if err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *repository) InsertCancellation(ctx context.Context, notice *models.CancellationNotice) error {
	return r.db.WithContext(ctx).Create(notice).Error
}

func (r *repository) ListCancellations(ctx context.Context, broadcastID uuid.UUID) ([]models.CancellationNotice, error) {
	var notices []models.CancellationNotice
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", broadcastID).
		Find(&notices).Error
	if err != nil {
		return nil, err
	}
	return notices, nil
}
