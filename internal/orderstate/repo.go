package orderstate

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// Repository manages persistence for orders and their transition history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, supplierID *uuid.UUID) (int64, error)
	InsertStateChange(ctx context.Context, change *models.OrderStateChange) error
	HistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderStateChange, error)
	HistoryHasStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus performs a guarded update so a concurrent transition that
// already moved the order off `from` makes this write a no-op.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, supplierID *uuid.UUID) (int64, error) {
	updates := map[string]any{
		"status": to,
	}
	if supplierID != nil {
		updates["supplier_id"] = *supplierID
	}
	result := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repository) InsertStateChange(ctx context.Context, change *models.OrderStateChange) error {
	return r.db.WithContext(ctx).Create(change).Error
}

func (r *repository) HistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderStateChange, error) {
	var changes []models.OrderStateChange
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *repository) HistoryHasStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OrderStateChange{}).
		Where("order_id = ? AND to_status = ?", orderID, status).
		Count(&count).Error
	return count > 0, err
}
