package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockroom-hq/stockroom-backend/pkg/config"
	dbpkg "github.com/stockroom-hq/stockroom-backend/pkg/db"
	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	dbtypes "github.com/stockroom-hq/stockroom-backend/pkg/db/types"
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
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SupplierDirectory ranks candidate suppliers for a category. The directory
// lives outside this service; routing only consumes the ranked ids.
type SupplierDirectory interface {
	Rank(ctx context.Context, category string, buyerID uuid.UUID) ([]uuid.UUID, error)
}

// Service coordinates supplier routing rounds. Winner selection relies only
// on the store's atomic conditional update, never on in-process locking.
type Service interface {
	Broadcast(ctx context.Context, input BroadcastInput) (*models.RoutingBroadcast, error)
	RecordResponse(ctx context.Context, input ResponseInput) (*models.SupplierResponse, error)
	AcceptWinner(ctx context.Context, broadcastID, supplierID uuid.UUID) (*AcceptOutcome, error)
	SendCancellations(ctx context.Context, broadcastID, winnerID uuid.UUID) (int, error)
	TimeoutBroadcast(ctx context.Context, broadcastID uuid.UUID) (*TimeoutOutcome, error)
	Rebroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.RoutingBroadcast, error)
	GetStatus(ctx context.Context, broadcastID uuid.UUID) (*models.RoutingBroadcast, error)
}

type service struct {
	repo      Repository
	directory SupplierDirectory
	tx        txRunner
	outbox    outboxPublisher
	logg      *logger.Logger
	cfg       config.RoutingConfig
	now       func() time.Time
}

// BroadcastInput opens a routing round for one order.
type BroadcastInput struct {
	OrderID  uuid.UUID
	BuyerID  uuid.UUID
	Category string
}

// ResponseInput records one supplier's accept/reject answer.
type ResponseInput struct {
	BroadcastID  uuid.UUID
	SupplierID   uuid.UUID
	ResponseType enums.SupplierResponseType
}

// AcceptOutcome reports how an acceptWinner call resolved.
type AcceptOutcome struct {
	Broadcast       *models.RoutingBroadcast
	WinnerID        uuid.UUID
	AlreadyAccepted bool
}

// TimeoutOutcome reports whether the broadcast actually expired and which
// routing round it was on, so the caller can decide between re-broadcast
// and failing the order.
type TimeoutOutcome struct {
	Broadcast    *models.RoutingBroadcast
	Expired      bool
	CanRetry     bool
	ResponseSeen int
}

// LostRaceDetails is attached to LOST_RACE errors so the caller learns the
// actual winner.
type LostRaceDetails struct {
	WinnerID uuid.UUID `json:"winner_id"`
}

// NewService wires a routing service with the required dependencies.
func NewService(repo Repository, directory SupplierDirectory, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger, cfg config.RoutingConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("routing repository required")
	}
	if directory == nil {
		return nil, fmt.Errorf("supplier directory required")
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
	if cfg.BroadcastTTL <= 0 {
		cfg.BroadcastTTL = 15 * time.Minute
	}
	if cfg.MaxFanout <= 0 {
		cfg.MaxFanout = 10
	}
	if cfg.MaxRebroadcast < 0 {
		cfg.MaxRebroadcast = 0
	}
	return &service{
		repo:      repo,
		directory: directory,
		tx:        tx,
		outbox:    outboxSvc,
		logg:      logg,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

func (s *service) Broadcast(ctx context.Context, input BroadcastInput) (*models.RoutingBroadcast, error) {
	if input.OrderID == uuid.Nil || input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and buyer ids required")
	}
	if input.Category == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category required")
	}

	existing, err := s.repo.FindByOrder(ctx, input.OrderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup broadcast")
	}

	suppliers, err := s.rankSuppliers(ctx, input.Category, input.BuyerID)
	if err != nil {
		return nil, err
	}

	broadcast := &models.RoutingBroadcast{
		OrderID:           input.OrderID,
		BuyerID:           input.BuyerID,
		Category:          input.Category,
		Status:            enums.BroadcastStatusPending,
		EligibleSuppliers: suppliers,
		Attempt:           1,
		ExpiresAt:         s.now().Add(s.cfg.BroadcastTTL),
	}
	if err := s.repo.Create(ctx, broadcast); err != nil {
		if dbpkg.IsUniqueViolation(err, "idx_routing_broadcasts_order") {
			winner, findErr := s.repo.FindByOrder(ctx, input.OrderID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "lookup winning broadcast")
			}
			return winner, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create broadcast")
	}
	return broadcast, nil
}

func (s *service) RecordResponse(ctx context.Context, input ResponseInput) (*models.SupplierResponse, error) {
	if input.BroadcastID == uuid.Nil || input.SupplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast and supplier ids required")
	}
	if !input.ResponseType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid response type %q", input.ResponseType))
	}

	var response *models.SupplierResponse
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		broadcast, err := s.loadBroadcast(ctx, repo, input.BroadcastID)
		if err != nil {
			return err
		}
		if err := s.checkOpen(broadcast); err != nil {
			return err
		}
		if !broadcast.IsEligible(input.SupplierID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "supplier not eligible for broadcast")
		}

		if existing, err := repo.FindResponse(ctx, input.BroadcastID, input.SupplierID); err == nil {
			if existing.ResponseType == input.ResponseType {
				response = existing
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeDuplicateResponse, "supplier already responded differently")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup response")
		}

		created := &models.SupplierResponse{
			BroadcastID:  input.BroadcastID,
			SupplierID:   input.SupplierID,
			ResponseType: input.ResponseType,
		}
		if err := repo.InsertResponse(ctx, created); err != nil {
			if dbpkg.IsUniqueViolation(err, "idx_supplier_responses_once") {
				existing, findErr := repo.FindResponse(ctx, input.BroadcastID, input.SupplierID)
				if findErr != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "lookup winning response")
				}
				if existing.ResponseType == input.ResponseType {
					response = existing
					return nil
				}
				return pkgerrors.New(pkgerrors.CodeDuplicateResponse, "supplier already responded differently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert response")
		}
		response = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// AcceptWinner resolves the routing race with one guarded update. Exactly one
// caller flips locked_supplier_id from null; everyone else reads back the
// winner and is told LOST_RACE. A winner re-invoking gets ALREADY_ACCEPTED.
func (s *service) AcceptWinner(ctx context.Context, broadcastID, supplierID uuid.UUID) (*AcceptOutcome, error) {
	if broadcastID == uuid.Nil || supplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast and supplier ids required")
	}

	var outcome *AcceptOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		broadcast, err := s.loadBroadcast(ctx, repo, broadcastID)
		if err != nil {
			return err
		}
		if !broadcast.IsEligible(supplierID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "supplier not eligible for broadcast")
		}
		if broadcast.LockedSupplierID == nil {
			if err := s.checkOpen(broadcast); err != nil {
				return err
			}
		}

		rows, err := repo.LockWinner(ctx, broadcastID, supplierID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock winner")
		}
		if rows == 0 {
			final, err := s.loadBroadcast(ctx, repo, broadcastID)
			if err != nil {
				return err
			}
			if final.LockedSupplierID == nil {
				// No winner and the guarded update missed: the round was
				// expired between our read and the lock attempt.
				return pkgerrors.New(pkgerrors.CodeBroadcastExpired, "broadcast expired before winner lock")
			}
			if *final.LockedSupplierID == supplierID {
				outcome = &AcceptOutcome{Broadcast: final, WinnerID: supplierID, AlreadyAccepted: true}
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeLostRace, "another supplier already won").
				WithDetails(LostRaceDetails{WinnerID: *final.LockedSupplierID})
		}

		locked := supplierID
		broadcast.LockedSupplierID = &locked
		broadcast.Status = enums.BroadcastStatusLocked
		outcome = &AcceptOutcome{Broadcast: broadcast, WinnerID: supplierID}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWinnerLocked,
			AggregateType: enums.AggregateBroadcast,
			AggregateID:   broadcast.ID,
			Version:       1,
			Data: payloads.WinnerLockedEvent{
				BroadcastID: broadcast.ID,
				OrderID:     broadcast.OrderID,
				SupplierID:  supplierID,
				LockedAt:    s.now().UTC(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// SendCancellations records a notice for every responding supplier other
// than the winner. Re-running skips suppliers already notified.
func (s *service) SendCancellations(ctx context.Context, broadcastID, winnerID uuid.UUID) (int, error) {
	if broadcastID == uuid.Nil || winnerID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "broadcast and winner ids required")
	}

	created := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		responses, err := repo.ListResponses(ctx, broadcastID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list responses")
		}
		broadcast, err := s.loadBroadcast(ctx, repo, broadcastID)
		if err != nil {
			return err
		}

		for _, response := range responses {
			if response.SupplierID == winnerID {
				continue
			}
			notice := &models.CancellationNotice{
				BroadcastID: broadcastID,
				SupplierID:  response.SupplierID,
				Reason:      "order awarded to another supplier",
			}
			if err := repo.InsertCancellation(ctx, notice); err != nil {
				if dbpkg.IsUniqueViolation(err, "idx_cancellation_notices_once") {
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert cancellation notice")
			}
			created++

			event := outbox.DomainEvent{
				EventType:     enums.EventCancellationRecorded,
				AggregateType: enums.AggregateBroadcast,
				AggregateID:   notice.ID,
				Version:       1,
				Data: payloads.CancellationRecordedEvent{
					BroadcastID: broadcastID,
					OrderID:     broadcast.OrderID,
					SupplierID:  response.SupplierID,
					Reason:      notice.Reason,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// TimeoutBroadcast expires an unlocked broadcast past its deadline. The
// caller decides what happens to the order next.
func (s *service) TimeoutBroadcast(ctx context.Context, broadcastID uuid.UUID) (*TimeoutOutcome, error) {
	if broadcastID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast id required")
	}

	var outcome *TimeoutOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		rows, err := repo.MarkExpired(ctx, broadcastID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire broadcast")
		}

		broadcast, err := s.loadBroadcast(ctx, repo, broadcastID)
		if err != nil {
			return err
		}
		outcome = &TimeoutOutcome{
			Broadcast:    broadcast,
			Expired:      rows > 0,
			CanRetry:     broadcast.Attempt <= s.cfg.MaxRebroadcast,
			ResponseSeen: len(broadcast.Responses),
		}
		if rows == 0 {
			return nil
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBroadcastExpired,
			AggregateType: enums.AggregateBroadcast,
			AggregateID:   broadcast.ID,
			Version:       1,
			Data: payloads.BroadcastExpiredEvent{
				BroadcastID:   broadcast.ID,
				OrderID:       broadcast.OrderID,
				ExpiredAt:     s.now().UTC(),
				Rebroadcast:   broadcast.Attempt <= s.cfg.MaxRebroadcast,
				ResponseCount: len(broadcast.Responses),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Rebroadcast opens the next routing round on an expired broadcast with a
// fresh supplier set and deadline.
func (s *service) Rebroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.RoutingBroadcast, error) {
	if broadcastID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast id required")
	}

	broadcast, err := s.loadBroadcast(ctx, s.repo, broadcastID)
	if err != nil {
		return nil, err
	}
	if broadcast.Status != enums.BroadcastStatusExpired {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState,
			fmt.Sprintf("broadcast is %s, not expired", broadcast.Status))
	}
	if broadcast.Attempt > s.cfg.MaxRebroadcast {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "re-broadcast attempts exhausted")
	}

	suppliers, err := s.rankSuppliers(ctx, broadcast.Category, broadcast.BuyerID)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.cfg.BroadcastTTL)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		rows, err := repo.Reopen(ctx, broadcastID, suppliers, expiresAt, s.cfg.MaxRebroadcast+1)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen broadcast")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "broadcast changed concurrently")
		}
		// The prior round's answers must not bind the new round: a supplier
		// who rejected round one may accept round two.
		if err := repo.DeleteResponses(ctx, broadcastID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear prior round responses")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.loadBroadcast(ctx, s.repo, broadcastID)
}

// GetStatus is a pure read; the snapshot may be superseded immediately.
func (s *service) GetStatus(ctx context.Context, broadcastID uuid.UUID) (*models.RoutingBroadcast, error) {
	if broadcastID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broadcast id required")
	}
	return s.loadBroadcast(ctx, s.repo, broadcastID)
}

func (s *service) loadBroadcast(ctx context.Context, repo Repository, id uuid.UUID) (*models.RoutingBroadcast, error) {
	broadcast, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "broadcast not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load broadcast")
	}
	return broadcast, nil
}

// checkOpen rejects writes against a broadcast that is locked, expired, or
// pending but past its deadline.
func (s *service) checkOpen(broadcast *models.RoutingBroadcast) error {
	switch broadcast.Status {
	case enums.BroadcastStatusLocked:
		return pkgerrors.New(pkgerrors.CodeInvalidState, "broadcast already locked")
	case enums.BroadcastStatusExpired:
		return pkgerrors.New(pkgerrors.CodeBroadcastExpired, "broadcast expired")
	}
	if s.now().After(broadcast.ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeBroadcastExpired, "broadcast past deadline")
	}
	return nil
}

func (s *service) rankSuppliers(ctx context.Context, category string, buyerID uuid.UUID) (dbtypes.UUIDArray, error) {
	ranked, err := s.directory.Rank(ctx, category, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rank suppliers")
	}
	if len(ranked) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoEligibleSuppliers, "no eligible suppliers for category")
	}
	if len(ranked) > s.cfg.MaxFanout {
		ranked = ranked[:s.cfg.MaxFanout]
	}
	return dbtypes.UUIDArray(ranked), nil
}
