package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stockroom-hq/stockroom-backend/internal/creditledger"
	"github.com/stockroom-hq/stockroom-backend/internal/orderstate"
	"github.com/stockroom-hq/stockroom-backend/internal/routing"
	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
)

// Service drives an order across the three coordination domains: state
// tracking, the credit ledger, and supplier routing. Each step is its own
// transaction; the orchestrator sequences them and routes failures onto the
// release/fail path.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error)
	HandleWinner(ctx context.Context, broadcastID, supplierID uuid.UUID) (*models.Order, error)
	StartDelivery(ctx context.Context, orderID uuid.UUID, performedBy string) (*models.Order, error)
	CompleteDelivery(ctx context.Context, orderID uuid.UUID, performedBy string) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*models.Order, error)
	Fail(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*models.Order, error)
	HandleBroadcastTimeout(ctx context.Context, broadcastID uuid.UUID) (*TimeoutDecision, error)
}

// SubmitInput pushes a CREATED order through validation, credit reservation,
// and the first routing round. SupplierID names the credit counterparty the
// buyer's order draws against; the fulfilling supplier is resolved later by
// routing.
type SubmitInput struct {
	OrderID     uuid.UUID
	SupplierID  uuid.UUID
	PerformedBy string
}

// SubmitResult reports where the order landed after intake processing.
type SubmitResult struct {
	Order       *models.Order
	Reservation *models.CreditReservation
	Broadcast   *models.RoutingBroadcast
}

// TimeoutDecision reports which path an expired broadcast took.
type TimeoutDecision struct {
	Expired       bool
	Rebroadcasted bool
	OrderFailed   bool
}

type service struct {
	orders  orderstate.Service
	credit  creditledger.Service
	routing routing.Service
	logg    *logger.Logger
}

// NewService wires the fulfillment orchestrator.
func NewService(orders orderstate.Service, credit creditledger.Service, routingSvc routing.Service, logg *logger.Logger) (Service, error) {
	if orders == nil {
		return nil, fmt.Errorf("order state service required")
	}
	if credit == nil {
		return nil, fmt.Errorf("credit ledger service required")
	}
	if routingSvc == nil {
		return nil, fmt.Errorf("routing service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{orders: orders, credit: credit, routing: routingSvc, logg: logg}, nil
}

// Submit runs validate → reserve → broadcast. Credit or routing failures put
// the order on the failure path before the error is returned, so callers see
// a consistent order state alongside the typed error.
func (s *service) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.SupplierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit supplier id required")
	}

	order, err := s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     input.OrderID,
		Target:      enums.OrderStatusValidated,
		PerformedBy: input.PerformedBy,
	})
	if err != nil {
		return nil, err
	}

	reservation, err := s.credit.Reserve(ctx, creditledger.ReserveInput{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SupplierID: input.SupplierID,
		Amount:     order.Amount,
	})
	if err != nil {
		if isBusinessRejection(err) {
			s.failQuietly(ctx, order.ID, input.PerformedBy, "credit reservation declined")
		}
		return nil, err
	}

	order, err = s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     order.ID,
		Target:      enums.OrderStatusCreditReserved,
		PerformedBy: input.PerformedBy,
	})
	if err != nil {
		return nil, err
	}

	broadcast, err := s.routing.Broadcast(ctx, routing.BroadcastInput{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		Category: order.Category,
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNoEligibleSuppliers) {
			s.releaseQuietly(ctx, order.ID, "no eligible suppliers")
			s.failQuietly(ctx, order.ID, input.PerformedBy, "no eligible suppliers")
		}
		return nil, err
	}

	order, err = s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     order.ID,
		Target:      enums.OrderStatusPendingBids,
		PerformedBy: input.PerformedBy,
	})
	if err != nil {
		return nil, err
	}

	return &SubmitResult{Order: order, Reservation: reservation, Broadcast: broadcast}, nil
}

// HandleWinner resolves a supplier's acceptance: lock the winner, move the
// order to VENDOR_ACCEPTED with the winning supplier recorded, then notify
// the losing responders. A repeat call by the winner is a no-op beyond
// re-attempting the cancellation sweep.
func (s *service) HandleWinner(ctx context.Context, broadcastID, supplierID uuid.UUID) (*models.Order, error) {
	outcome, err := s.routing.AcceptWinner(ctx, broadcastID, supplierID)
	if err != nil {
		return nil, err
	}

	winner := outcome.WinnerID
	order, err := s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     outcome.Broadcast.OrderID,
		Target:      enums.OrderStatusVendorAccepted,
		PerformedBy: "routing",
		SupplierID:  &winner,
	})
	if err != nil {
		if !outcome.AlreadyAccepted || !pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			return nil, err
		}
		// Winner re-invocation after the transition already landed.
		order, err = s.orders.Get(ctx, outcome.Broadcast.OrderID)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.routing.SendCancellations(ctx, broadcastID, winner); err != nil {
		// Notices are idempotent; the next sweep can fill any gap.
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"broadcast_id": broadcastID,
			"error":        err.Error(),
		})
		s.logg.Warn(logCtx, "cancellation sweep failed after winner lock")
	}
	return order, nil
}

func (s *service) StartDelivery(ctx context.Context, orderID uuid.UUID, performedBy string) (*models.Order, error) {
	return s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     orderID,
		Target:      enums.OrderStatusOutForDelivery,
		PerformedBy: performedBy,
	})
}

// CompleteDelivery lands the order and converts the credit hold into a debit.
// The status commit comes first: conversion is retryable afterwards, while a
// debit against an undelivered order would not be.
func (s *service) CompleteDelivery(ctx context.Context, orderID uuid.UUID, performedBy string) (*models.Order, error) {
	order, err := s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     orderID,
		Target:      enums.OrderStatusDelivered,
		PerformedBy: performedBy,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.credit.ConvertToDebit(ctx, orderID); err != nil {
		return order, err
	}
	return order, nil
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*models.Order, error) {
	return s.closeOut(ctx, orderID, enums.OrderStatusCancelled, performedBy, reason)
}

func (s *service) Fail(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*models.Order, error) {
	return s.closeOut(ctx, orderID, enums.OrderStatusFailed, performedBy, reason)
}

// closeOut releases any credit hold and moves the order to a terminal state.
// Orders that never reached reservation have no hold to release.
func (s *service) closeOut(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, performedBy, reason string) (*models.Order, error) {
	if _, err := s.credit.Release(ctx, orderID, reason); err != nil {
		if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
			return nil, err
		}
	}
	return s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     orderID,
		Target:      target,
		PerformedBy: performedBy,
		Reason:      &reason,
	})
}

// HandleBroadcastTimeout expires a due broadcast, then either re-opens one
// more routing round or releases credit and fails the order.
func (s *service) HandleBroadcastTimeout(ctx context.Context, broadcastID uuid.UUID) (*TimeoutDecision, error) {
	outcome, err := s.routing.TimeoutBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if !outcome.Expired {
		return &TimeoutDecision{}, nil
	}

	if outcome.CanRetry {
		if _, err := s.routing.Rebroadcast(ctx, broadcastID); err != nil {
			// A concurrent sweep already won the reopen; treat as handled.
			if pkgerrors.HasCode(err, pkgerrors.CodeConflict) || pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
				return &TimeoutDecision{Expired: true, Rebroadcasted: true}, nil
			}
			return nil, err
		}
		return &TimeoutDecision{Expired: true, Rebroadcasted: true}, nil
	}

	orderID := outcome.Broadcast.OrderID
	if _, err := s.Fail(ctx, orderID, "cron", "broadcast expired without winner"); err != nil {
		return nil, err
	}
	return &TimeoutDecision{Expired: true, OrderFailed: true}, nil
}

func (s *service) failQuietly(ctx context.Context, orderID uuid.UUID, performedBy, reason string) {
	if _, err := s.orders.Transition(ctx, orderstate.TransitionInput{
		OrderID:     orderID,
		Target:      enums.OrderStatusFailed,
		PerformedBy: performedBy,
		Reason:      &reason,
	}); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		s.logg.Warn(logCtx, "failed to move order to FAILED")
	}
}

func (s *service) releaseQuietly(ctx context.Context, orderID uuid.UUID, reason string) {
	if _, err := s.credit.Release(ctx, orderID, reason); err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		s.logg.Warn(logCtx, "failed to release credit hold")
	}
}

// isBusinessRejection distinguishes declined reservations from transient
// infrastructure errors, which should leave the order retryable.
func isBusinessRejection(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCredit) ||
		pkgerrors.HasCode(err, pkgerrors.CodeAccountBlocked)
}
