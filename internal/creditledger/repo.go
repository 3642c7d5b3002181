package creditledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// Repository manages persistence for credit accounts, reservations and the
// append-only ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	FindAccount(ctx context.Context, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error)
	LockAccount(ctx context.Context, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error)
	SetAccountBlocked(ctx context.Context, id uuid.UUID, blocked bool) error
	CreateReservation(ctx context.Context, reservation *models.CreditReservation) error
	FindReservationByOrder(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error)
	LockReservationByOrder(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error)
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (int64, error)
	SumActiveReservations(ctx context.Context, buyerID, supplierID uuid.UUID) (decimal.Decimal, error)
	EntryTotals(ctx context.Context, buyerID, supplierID uuid.UUID) (map[enums.LedgerEntryType]decimal.Decimal, error)
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListEntries(ctx context.Context, buyerID, supplierID uuid.UUID, limit int) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credit ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccount(ctx context.Context, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND supplier_id = ?", buyerID, supplierID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// LockAccount takes the account row lock that serializes every mutating
// operation for one (buyer, supplier) pair.
func (r *repository) LockAccount(ctx context.Context, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("buyer_id = ? AND supplier_id = ?", buyerID, supplierID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) SetAccountBlocked(ctx context.Context, id uuid.UUID, blocked bool) error {
	return r.db.WithContext(ctx).Model(&models.CreditAccount{}).
		Where("id = ?", id).
		Update("blocked", blocked).Error
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.CreditReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindReservationByOrder(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error) {
	var reservation models.CreditReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) LockReservationByOrder(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error) {
	var reservation models.CreditReservation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// UpdateReservationStatus is guarded on the current status so a concurrent
// release/convert cannot both claim the same reservation.
func (r *repository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.CreditReservation{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return result.RowsAffected, result.Error
}

func (r *repository) SumActiveReservations(ctx context.Context, buyerID, supplierID uuid.UUID) (decimal.Decimal, error) {
	var raw *string
	err := r.db.WithContext(ctx).Model(&models.CreditReservation{}).
		Select("SUM(amount)").
		Where("buyer_id = ? AND supplier_id = ? AND status = ?", buyerID, supplierID, enums.ReservationStatusActive).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	return parseSum(raw)
}

func (r *repository) EntryTotals(ctx context.Context, buyerID, supplierID uuid.UUID) (map[enums.LedgerEntryType]decimal.Decimal, error) {
	var rows []struct {
		EntryType enums.LedgerEntryType
		Total     string
	}
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("entry_type, SUM(amount) AS total").
		Where("buyer_id = ? AND supplier_id = ?", buyerID, supplierID).
		Group("entry_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[enums.LedgerEntryType]decimal.Decimal, len(rows))
	for _, row := range rows {
		total, err := decimal.NewFromString(row.Total)
		if err != nil {
			return nil, err
		}
		totals[row.EntryType] = total
	}
	return totals, nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, buyerID, supplierID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	query := r.db.WithContext(ctx).
		Where("buyer_id = ? AND supplier_id = ?", buyerID, supplierID).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func parseSum(raw *string) (decimal.Decimal, error) {
	if raw == nil || *raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}
