package creditledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stockroom-hq/stockroom-backend/pkg/config"
	dbpkg "github.com/stockroom-hq/stockroom-backend/pkg/db"
	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
	"github.com/stockroom-hq/stockroom-backend/pkg/outbox"
	"github.com/stockroom-hq/stockroom-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns buyer credit. Available credit is never stored; it is always
// derived from the account limit, active reservations and the ledger, so the
// account row lock is the single point of serialization per (buyer, supplier).
type Service interface {
	CreateAccount(ctx context.Context, input CreateAccountInput) (*models.CreditAccount, error)
	GetAvailableCredit(ctx context.Context, buyerID, supplierID uuid.UUID) (decimal.Decimal, error)
	CanReserve(ctx context.Context, buyerID, supplierID uuid.UUID, amount decimal.Decimal) (bool, error)
	Reserve(ctx context.Context, input ReserveInput) (*models.CreditReservation, error)
	Release(ctx context.Context, orderID uuid.UUID, reason string) (*models.CreditReservation, error)
	ConvertToDebit(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error)
	SetBlocked(ctx context.Context, buyerID, supplierID uuid.UUID, blocked bool) error
	RecordAdjustment(ctx context.Context, input AdjustmentInput) (*models.LedgerEntry, error)
	Entries(ctx context.Context, buyerID, supplierID uuid.UUID, limit int) ([]models.LedgerEntry, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	cfg    config.LedgerConfig
}

// CreateAccountInput provisions a credit line for a (buyer, supplier) pair.
type CreateAccountInput struct {
	BuyerID    uuid.UUID
	SupplierID uuid.UUID
	Limit      decimal.Decimal
}

// ReserveInput places a hold against the buyer's credit line for one order.
type ReserveInput struct {
	OrderID    uuid.UUID
	BuyerID    uuid.UUID
	SupplierID uuid.UUID
	Amount     decimal.Decimal
}

// AdjustmentInput records a signed manual correction; positive amounts reduce
// available credit.
type AdjustmentInput struct {
	BuyerID    uuid.UUID
	SupplierID uuid.UUID
	Amount     decimal.Decimal
	Memo       *string
}

// InsufficientCreditDetails is attached to INSUFFICIENT_CREDIT errors.
type InsufficientCreditDetails struct {
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// NewService wires a credit ledger service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger, cfg config.LedgerConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("creditledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 25 * time.Millisecond
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc, logg: logg, cfg: cfg}, nil
}

func (s *service) CreateAccount(ctx context.Context, input CreateAccountInput) (*models.CreditAccount, error) {
	if input.BuyerID == uuid.Nil || input.SupplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and supplier ids required")
	}
	if !input.Limit.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit limit must be positive")
	}
	account := &models.CreditAccount{
		BuyerID:    input.BuyerID,
		SupplierID: input.SupplierID,
		Limit:      input.Limit,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		if dbpkg.IsUniqueViolation(err, "idx_credit_accounts_pair") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "credit account already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit account")
	}
	return account, nil
}

// GetAvailableCredit recomputes available credit without taking any lock. The
// result may be stale by the time the caller acts on it; only the
// in-transaction recompute inside Reserve is authoritative.
func (s *service) GetAvailableCredit(ctx context.Context, buyerID, supplierID uuid.UUID) (decimal.Decimal, error) {
	account, err := s.loadAccount(ctx, s.repo, buyerID, supplierID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.availableCredit(ctx, s.repo, account)
}

// CanReserve is a pure advisory pre-check.
func (s *service) CanReserve(ctx context.Context, buyerID, supplierID uuid.UUID, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	account, err := s.loadAccount(ctx, s.repo, buyerID, supplierID)
	if err != nil {
		return false, err
	}
	if account.Blocked {
		return false, nil
	}
	available, err := s.availableCredit(ctx, s.repo, account)
	if err != nil {
		return false, err
	}
	return available.GreaterThanOrEqual(amount), nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.CreditReservation, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.BuyerID == uuid.Nil || input.SupplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and supplier ids required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var reservation *models.CreditReservation
	err := s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			existing, err := repo.FindReservationByOrder(ctx, input.OrderID)
			if err == nil {
				reservation = existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup reservation")
			}

			account, err := s.lockAccount(ctx, repo, input.BuyerID, input.SupplierID)
			if err != nil {
				return err
			}
			if account.Blocked {
				return pkgerrors.New(pkgerrors.CodeAccountBlocked, "credit account is blocked")
			}

			available, err := s.availableCredit(ctx, repo, account)
			if err != nil {
				return err
			}
			if input.Amount.GreaterThan(available) {
				return pkgerrors.New(pkgerrors.CodeInsufficientCredit, "insufficient credit").
					WithDetails(InsufficientCreditDetails{
						Requested: input.Amount,
						Available: available,
						Shortfall: input.Amount.Sub(available),
					})
			}

			created := &models.CreditReservation{
				OrderID:    input.OrderID,
				BuyerID:    input.BuyerID,
				SupplierID: input.SupplierID,
				Amount:     input.Amount,
				Status:     enums.ReservationStatusActive,
			}
			if err := repo.CreateReservation(ctx, created); err != nil {
				if dbpkg.IsUniqueViolation(err, "idx_credit_reservations_order") {
					winner, findErr := repo.FindReservationByOrder(ctx, input.OrderID)
					if findErr != nil {
						return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "lookup winning reservation")
					}
					reservation = winner
					return nil
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
			}

			entry := &models.LedgerEntry{
				BuyerID:    input.BuyerID,
				SupplierID: input.SupplierID,
				OrderID:    &input.OrderID,
				EntryType:  enums.LedgerEntryTypeReserve,
				Amount:     input.Amount,
			}
			if err := repo.CreateEntry(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write reserve entry")
			}

			reservation = created
			return nil
		})
	})
	if err != nil {
		s.emitReserveDecline(ctx, input, err)
		return nil, err
	}
	return reservation, nil
}

func (s *service) Release(ctx context.Context, orderID uuid.UUID, reason string) (*models.CreditReservation, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var reservation *models.CreditReservation
	err := s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			locked, err := repo.LockReservationByOrder(ctx, orderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeInvalidState, "reservation never existed")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock reservation")
			}
			if locked.Status != enums.ReservationStatusActive {
				reservation = locked
				return nil
			}
			if _, err := s.lockAccount(ctx, repo, locked.BuyerID, locked.SupplierID); err != nil {
				return err
			}

			rows, err := repo.UpdateReservationStatus(ctx, locked.ID, enums.ReservationStatusActive, enums.ReservationStatusReleased)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reservation")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "reservation changed concurrently")
			}

			memo := reason
			entry := &models.LedgerEntry{
				BuyerID:    locked.BuyerID,
				SupplierID: locked.SupplierID,
				OrderID:    &locked.OrderID,
				EntryType:  enums.LedgerEntryTypeRelease,
				Amount:     locked.Amount,
				Memo:       &memo,
			}
			if err := repo.CreateEntry(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write release entry")
			}

			locked.Status = enums.ReservationStatusReleased
			reservation = locked

			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationReleased,
				AggregateType: enums.AggregateReservation,
				AggregateID:   locked.ID,
				Version:       1,
				Data: payloads.ReservationReleasedEvent{
					ReservationID: locked.ID,
					OrderID:       locked.OrderID,
					BuyerID:       locked.BuyerID,
					SupplierID:    locked.SupplierID,
					Amount:        locked.Amount,
					ReleasedAt:    time.Now().UTC(),
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) ConvertToDebit(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var reservation *models.CreditReservation
	err := s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			locked, err := repo.LockReservationByOrder(ctx, orderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeInvalidState, "reservation never existed")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock reservation")
			}
			if locked.Status != enums.ReservationStatusActive {
				return pkgerrors.New(pkgerrors.CodeInvalidState,
					fmt.Sprintf("reservation is %s, not active", locked.Status))
			}
			if _, err := s.lockAccount(ctx, repo, locked.BuyerID, locked.SupplierID); err != nil {
				return err
			}

			rows, err := repo.UpdateReservationStatus(ctx, locked.ID, enums.ReservationStatusActive, enums.ReservationStatusConverted)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert reservation")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "reservation changed concurrently")
			}

			entry := &models.LedgerEntry{
				BuyerID:    locked.BuyerID,
				SupplierID: locked.SupplierID,
				OrderID:    &locked.OrderID,
				EntryType:  enums.LedgerEntryTypeDebit,
				Amount:     locked.Amount,
			}
			if err := repo.CreateEntry(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write debit entry")
			}

			locked.Status = enums.ReservationStatusConverted
			reservation = locked

			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationConverted,
				AggregateType: enums.AggregateReservation,
				AggregateID:   locked.ID,
				Version:       1,
				Data: payloads.ReservationConvertedEvent{
					ReservationID: locked.ID,
					OrderID:       locked.OrderID,
					BuyerID:       locked.BuyerID,
					SupplierID:    locked.SupplierID,
					Amount:        locked.Amount,
					ConvertedAt:   time.Now().UTC(),
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) SetBlocked(ctx context.Context, buyerID, supplierID uuid.UUID, blocked bool) error {
	if buyerID == uuid.Nil || supplierID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer and supplier ids required")
	}
	return s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			account, err := s.lockAccount(ctx, repo, buyerID, supplierID)
			if err != nil {
				return err
			}
			if account.Blocked == blocked {
				return nil
			}
			if err := repo.SetAccountBlocked(ctx, account.ID, blocked); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update account block")
			}

			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAccountBlockChanged,
				AggregateType: enums.AggregateCreditAccount,
				AggregateID:   account.ID,
				Version:       1,
				Data: payloads.AccountBlockChangedEvent{
					AccountID:  account.ID,
					BuyerID:    buyerID,
					SupplierID: supplierID,
					Blocked:    blocked,
					ChangedAt:  time.Now().UTC(),
				},
			})
		})
	})
}

func (s *service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (*models.LedgerEntry, error) {
	if input.BuyerID == uuid.Nil || input.SupplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and supplier ids required")
	}
	if input.Amount.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
	}

	var entry *models.LedgerEntry
	err := s.withContentionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			if _, err := s.lockAccount(ctx, repo, input.BuyerID, input.SupplierID); err != nil {
				return err
			}

			created := &models.LedgerEntry{
				BuyerID:    input.BuyerID,
				SupplierID: input.SupplierID,
				EntryType:  enums.LedgerEntryTypeAdjustment,
				Amount:     input.Amount,
				Memo:       input.Memo,
			}
			if err := repo.CreateEntry(ctx, created); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write adjustment entry")
			}
			entry = created

			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAdjustmentRecorded,
				AggregateType: enums.AggregateCreditAccount,
				AggregateID:   created.ID,
				Version:       1,
				Data: payloads.AdjustmentRecordedEvent{
					EntryID:    created.ID,
					BuyerID:    input.BuyerID,
					SupplierID: input.SupplierID,
					Amount:     input.Amount,
					Memo:       memoString(input.Memo),
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Entries(ctx context.Context, buyerID, supplierID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	if buyerID == uuid.Nil || supplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and supplier ids required")
	}
	entries, err := s.repo.ListEntries(ctx, buyerID, supplierID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

// availableCredit derives the spendable amount: limit minus active holds
// minus settled debits and adjustments, plus credits. RESERVE and RELEASE
// entries are audit-only; holds are counted from the reservations table so
// they are never double-counted.
func (s *service) availableCredit(ctx context.Context, repo Repository, account *models.CreditAccount) (decimal.Decimal, error) {
	held, err := repo.SumActiveReservations(ctx, account.BuyerID, account.SupplierID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum reservations")
	}
	totals, err := repo.EntryTotals(ctx, account.BuyerID, account.SupplierID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	available := account.Limit.
		Sub(held).
		Sub(totals[enums.LedgerEntryTypeDebit]).
		Sub(totals[enums.LedgerEntryTypeAdjustment]).
		Add(totals[enums.LedgerEntryTypeCredit])
	return available, nil
}

func (s *service) loadAccount(ctx context.Context, repo Repository, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error) {
	if buyerID == uuid.Nil || supplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and supplier ids required")
	}
	account, err := repo.FindAccount(ctx, buyerID, supplierID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit account")
	}
	return account, nil
}

func (s *service) lockAccount(ctx context.Context, repo Repository, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error) {
	account, err := repo.LockAccount(ctx, buyerID, supplierID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock credit account")
	}
	return account, nil
}

// withContentionRetry runs fn up to the configured attempt cap, backing off
// exponentially on lock/serialization conflicts and surfacing SYSTEM_BUSY
// once the attempts are spent. Business-rule failures pass through unretried.
func (s *service) withContentionRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.cfg.RetryAttempts-1), retry.NewExponential(s.cfg.RetryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if dbpkg.IsContention(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil && dbpkg.IsContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeSystemBusy, err, "credit account busy")
	}
	return err
}

// emitReserveDecline records the refusal for notification consumers. The
// reserve transaction rolled back, so this is a separate best-effort write.
func (s *service) emitReserveDecline(ctx context.Context, input ReserveInput, cause error) {
	var (
		reason    string
		available decimal.Decimal
	)
	switch {
	case pkgerrors.HasCode(cause, pkgerrors.CodeInsufficientCredit):
		reason = "insufficient_credit"
		if appErr := pkgerrors.As(cause); appErr != nil {
			if details, ok := appErr.Details().(InsufficientCreditDetails); ok {
				available = details.Available
			}
		}
	case pkgerrors.HasCode(cause, pkgerrors.CodeAccountBlocked):
		reason = "account_blocked"
	default:
		return
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationDeclined,
			AggregateType: enums.AggregateOrder,
			AggregateID:   input.OrderID,
			Version:       1,
			Data: payloads.ReservationDeclinedEvent{
				OrderID:    input.OrderID,
				BuyerID:    input.BuyerID,
				SupplierID: input.SupplierID,
				Requested:  input.Amount,
				Available:  available,
				Reason:     reason,
			},
		})
	})
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": input.OrderID.String(),
			"reason":   reason,
		})
		s.logg.Warn(logCtx, "reserve decline event write failed")
	}
}

func memoString(memo *string) string {
	if memo == nil {
		return ""
	}
	return *memo
}
