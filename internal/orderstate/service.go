package orderstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

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

// Service owns the order lifecycle: every status change flows through
// Transition so the lifecycle graph is enforced in exactly one place.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStateChange, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

// CreateOrderInput carries the fields order intake hands over. Orders always
// start in CREATED; the first transition call moves them to VALIDATED.
type CreateOrderInput struct {
	BuyerID  uuid.UUID
	Category string
	Amount   decimal.Decimal
}

// TransitionInput captures one requested status change.
type TransitionInput struct {
	OrderID     uuid.UUID
	Target      enums.OrderStatus
	PerformedBy string
	Reason      *string
	SupplierID  *uuid.UUID
}

// NewService wires an order state service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orderstate repository required")
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
	return &service{repo: repo, tx: tx, outbox: outboxSvc, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	order := &models.Order{
		BuyerID:  input.BuyerID,
		Category: input.Category,
		Amount:   input.Amount,
		Status:   enums.OrderStatusCreated,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.Find(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStateChange, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	changes, err := s.repo.HistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
	}
	return changes, nil
}

// Transition moves the order to the target status. The status write and the
// outbox event commit together; the history record is appended afterwards
// best-effort, because losing an audit row is tolerable and losing the status
// update is not.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid target status %q", input.Target))
	}
	if input.PerformedBy == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed_by required")
	}

	var (
		order      *models.Order
		fromStatus enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		loaded, err := repo.Find(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if loaded.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeTerminalState,
				fmt.Sprintf("order is terminal in %s", loaded.Status))
		}
		if !CanTransition(loaded.Status, input.Target) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition,
				fmt.Sprintf("cannot transition %s to %s", loaded.Status, input.Target))
		}
		if input.Target == enums.OrderStatusDelivered {
			reserved, err := repo.HistoryHasStatus(ctx, loaded.ID, enums.OrderStatusCreditReserved)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check credit reservation history")
			}
			if !reserved {
				return pkgerrors.New(pkgerrors.CodeMissingCreditReservation,
					"order was never credit reserved")
			}
		}

		rows, err := repo.UpdateStatus(ctx, loaded.ID, loaded.Status, input.Target, input.SupplierID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}

		fromStatus = loaded.Status
		loaded.Status = input.Target
		if input.SupplierID != nil {
			loaded.SupplierID = input.SupplierID
		}
		order = loaded

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderTransitioned,
			AggregateType: enums.AggregateOrder,
			AggregateID:   loaded.ID,
			Version:       1,
			Data: payloads.OrderTransitionedEvent{
				OrderID:        loaded.ID,
				BuyerID:        loaded.BuyerID,
				FromStatus:     fromStatus,
				ToStatus:       input.Target,
				PerformedBy:    input.PerformedBy,
				Reason:         reasonString(input.Reason),
				TransitionedAt: time.Now().UTC(),
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.appendHistory(ctx, order.ID, &models.OrderStateChange{
		OrderID:     order.ID,
		FromStatus:  fromStatus,
		ToStatus:    input.Target,
		PerformedBy: input.PerformedBy,
		Reason:      input.Reason,
	})
	return order, nil
}

// appendHistory writes the audit row outside the status transaction. A unique
// violation means a previous attempt already recorded this edge.
func (s *service) appendHistory(ctx context.Context, orderID uuid.UUID, change *models.OrderStateChange) {
	if err := s.repo.InsertStateChange(ctx, change); err != nil {
		if dbpkg.IsUniqueViolation(err, "idx_order_state_changes_once") {
			return
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":  orderID.String(),
			"to_status": change.ToStatus,
		})
		s.logg.Warn(logCtx, "order history write failed")
	}
}

func reasonString(reason *string) string {
	if reason == nil {
		return ""
	}
	return *reason
}
