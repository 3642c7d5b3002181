package fulfillment

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-hq/stockroom-backend/internal/creditledger"
	"github.com/stockroom-hq/stockroom-backend/internal/orderstate"
	"github.com/stockroom-hq/stockroom-backend/internal/routing"
	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
)

// fakeOrders applies transitions to an in-memory order without persistence,
// rejecting the jumps the real tracker would reject.
type fakeOrders struct {
	order       *models.Order
	transitions []enums.OrderStatus
	failOn      map[enums.OrderStatus]error
}

func (f *fakeOrders) Create(ctx context.Context, input orderstate.CreateOrderInput) (*models.Order, error) {
	return f.order, nil
}

func (f *fakeOrders) Transition(ctx context.Context, input orderstate.TransitionInput) (*models.Order, error) {
	if err, ok := f.failOn[input.Target]; ok && err != nil {
		return nil, err
	}
	f.order.Status = input.Target
	if input.SupplierID != nil {
		f.order.SupplierID = input.SupplierID
	}
	f.transitions = append(f.transitions, input.Target)
	copied := *f.order
	return &copied, nil
}

func (f *fakeOrders) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	copied := *f.order
	return &copied, nil
}

func (f *fakeOrders) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStateChange, error) {
	return nil, nil
}

type fakeCredit struct {
	reserveErr  error
	reserved    bool
	released    bool
	releaseErr  error
	converted   bool
	convertErr  error
	reservation *models.CreditReservation
}

func (f *fakeCredit) CreateAccount(ctx context.Context, input creditledger.CreateAccountInput) (*models.CreditAccount, error) {
	return nil, nil
}

func (f *fakeCredit) GetAvailableCredit(ctx context.Context, buyerID, supplierID uuid.UUID) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeCredit) CanReserve(ctx context.Context, buyerID, supplierID uuid.UUID, amount decimal.Decimal) (bool, error) {
	return true, nil
}

func (f *fakeCredit) Reserve(ctx context.Context, input creditledger.ReserveInput) (*models.CreditReservation, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.reserved = true
	f.reservation = &models.CreditReservation{
		ID:      uuid.New(),
		OrderID: input.OrderID,
		BuyerID: input.BuyerID,
		Amount:  input.Amount,
		Status:  enums.ReservationStatusActive,
	}
	return f.reservation, nil
}

func (f *fakeCredit) Release(ctx context.Context, orderID uuid.UUID, reason string) (*models.CreditReservation, error) {
	if f.releaseErr != nil {
		return nil, f.releaseErr
	}
	f.released = true
	return f.reservation, nil
}

func (f *fakeCredit) ConvertToDebit(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error) {
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	f.converted = true
	return f.reservation, nil
}

func (f *fakeCredit) SetBlocked(ctx context.Context, buyerID, supplierID uuid.UUID, blocked bool) error {
	return nil
}

func (f *fakeCredit) RecordAdjustment(ctx context.Context, input creditledger.AdjustmentInput) (*models.LedgerEntry, error) {
	return nil, nil
}

func (f *fakeCredit) Entries(ctx context.Context, buyerID, supplierID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	return nil, nil
}

type fakeRouting struct {
	broadcast     *models.RoutingBroadcast
	broadcastErr  error
	acceptOutcome *routing.AcceptOutcome
	acceptErr     error
	cancellations int
	timeout       *routing.TimeoutOutcome
	rebroadcastN  int
	rebroadcast   *models.RoutingBroadcast
	reErr         error
}

func (f *fakeRouting) Broadcast(ctx context.Context, input routing.BroadcastInput) (*models.RoutingBroadcast, error) {
	if f.broadcastErr != nil {
		return nil, f.broadcastErr
	}
	return f.broadcast, nil
}

func (f *fakeRouting) RecordResponse(ctx context.Context, input routing.ResponseInput) (*models.SupplierResponse, error) {
	return nil, nil
}

func (f *fakeRouting) AcceptWinner(ctx context.Context, broadcastID, supplierID uuid.UUID) (*routing.AcceptOutcome, error) {
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return f.acceptOutcome, nil
}

func (f *fakeRouting) SendCancellations(ctx context.Context, broadcastID, winnerID uuid.UUID) (int, error) {
	f.cancellations++
	return 3, nil
}

func (f *fakeRouting) TimeoutBroadcast(ctx context.Context, broadcastID uuid.UUID) (*routing.TimeoutOutcome, error) {
	return f.timeout, nil
}

func (f *fakeRouting) Rebroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.RoutingBroadcast, error) {
	if f.reErr != nil {
		return nil, f.reErr
	}
	f.rebroadcastN++
	return f.rebroadcast, nil
}

func (f *fakeRouting) GetStatus(ctx context.Context, broadcastID uuid.UUID) (*models.RoutingBroadcast, error) {
	return f.broadcast, nil
}

func newOrder(status enums.OrderStatus) *models.Order {
	return &models.Order{
		ID:       uuid.New(),
		BuyerID:  uuid.New(),
		Category: "produce",
		Amount:   decimal.NewFromInt(12500),
		Status:   status,
	}
}

func newFulfillment(t *testing.T, orders *fakeOrders, credit *fakeCredit, routingSvc *fakeRouting) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "fulfillment-test", Output: io.Discard})
	svc, err := NewService(orders, credit, routingSvc, logg)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func TestService_SubmitHappyPath(t *testing.T) {
	order := newOrder(enums.OrderStatusCreated)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{}
	routingSvc := &fakeRouting{broadcast: &models.RoutingBroadcast{
		ID:      uuid.New(),
		OrderID: order.ID,
		Status:  enums.BroadcastStatusPending,
	}}
	svc := newFulfillment(t, orders, credit, routingSvc)

	result, err := svc.Submit(context.Background(), SubmitInput{
		OrderID:     order.ID,
		SupplierID:  uuid.New(),
		PerformedBy: "intake",
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if result.Order.Status != enums.OrderStatusPendingBids {
		t.Fatalf("expected PENDING_BIDS, got %s", result.Order.Status)
	}
	if !credit.reserved {
		t.Fatalf("credit never reserved")
	}
	want := []enums.OrderStatus{
		enums.OrderStatusValidated,
		enums.OrderStatusCreditReserved,
		enums.OrderStatusPendingBids,
	}
	if len(orders.transitions) != len(want) {
		t.Fatalf("unexpected transitions: %v", orders.transitions)
	}
	for i, status := range want {
		if orders.transitions[i] != status {
			t.Fatalf("transition %d: expected %s, got %s", i, status, orders.transitions[i])
		}
	}
}

func TestService_SubmitInsufficientCreditFailsOrder(t *testing.T) {
	order := newOrder(enums.OrderStatusCreated)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{reserveErr: pkgerrors.New(pkgerrors.CodeInsufficientCredit, "insufficient credit")}
	svc := newFulfillment(t, orders, credit, &fakeRouting{})

	_, err := svc.Submit(context.Background(), SubmitInput{
		OrderID:     order.ID,
		SupplierID:  uuid.New(),
		PerformedBy: "intake",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCredit) {
		t.Fatalf("expected INSUFFICIENT_CREDIT, got %v", err)
	}
	if order.Status != enums.OrderStatusFailed {
		t.Fatalf("declined order must be FAILED, got %s", order.Status)
	}
}

func TestService_SubmitTransientReserveErrorLeavesOrderRetryable(t *testing.T) {
	order := newOrder(enums.OrderStatusCreated)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{reserveErr: pkgerrors.New(pkgerrors.CodeSystemBusy, "system busy")}
	svc := newFulfillment(t, orders, credit, &fakeRouting{})

	_, err := svc.Submit(context.Background(), SubmitInput{
		OrderID:     order.ID,
		SupplierID:  uuid.New(),
		PerformedBy: "intake",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeSystemBusy) {
		t.Fatalf("expected SYSTEM_BUSY, got %v", err)
	}
	if order.Status != enums.OrderStatusValidated {
		t.Fatalf("order must stay VALIDATED for retry, got %s", order.Status)
	}
}

func TestService_SubmitNoSuppliersReleasesAndFails(t *testing.T) {
	order := newOrder(enums.OrderStatusCreated)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{}
	routingSvc := &fakeRouting{broadcastErr: pkgerrors.New(pkgerrors.CodeNoEligibleSuppliers, "no suppliers")}
	svc := newFulfillment(t, orders, credit, routingSvc)

	_, err := svc.Submit(context.Background(), SubmitInput{
		OrderID:     order.ID,
		SupplierID:  uuid.New(),
		PerformedBy: "intake",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNoEligibleSuppliers) {
		t.Fatalf("expected NO_ELIGIBLE_SUPPLIERS, got %v", err)
	}
	if !credit.released {
		t.Fatalf("credit hold must be released")
	}
	if order.Status != enums.OrderStatusFailed {
		t.Fatalf("order must be FAILED, got %s", order.Status)
	}
}

func TestService_HandleWinnerTransitionsAndCancels(t *testing.T) {
	order := newOrder(enums.OrderStatusPendingBids)
	orders := &fakeOrders{order: order}
	winner := uuid.New()
	routingSvc := &fakeRouting{acceptOutcome: &routing.AcceptOutcome{
		Broadcast: &models.RoutingBroadcast{ID: uuid.New(), OrderID: order.ID},
		WinnerID:  winner,
	}}
	svc := newFulfillment(t, orders, &fakeCredit{}, routingSvc)

	got, err := svc.HandleWinner(context.Background(), uuid.New(), winner)
	if err != nil {
		t.Fatalf("HandleWinner error: %v", err)
	}
	if got.Status != enums.OrderStatusVendorAccepted {
		t.Fatalf("expected VENDOR_ACCEPTED, got %s", got.Status)
	}
	if got.SupplierID == nil || *got.SupplierID != winner {
		t.Fatalf("winner not recorded on order: %+v", got.SupplierID)
	}
	if routingSvc.cancellations != 1 {
		t.Fatalf("expected one cancellation sweep, got %d", routingSvc.cancellations)
	}
}

func TestService_HandleWinnerRepeatIsIdempotent(t *testing.T) {
	winner := uuid.New()
	order := newOrder(enums.OrderStatusVendorAccepted)
	order.SupplierID = &winner
	orders := &fakeOrders{
		order: order,
		failOn: map[enums.OrderStatus]error{
			enums.OrderStatusVendorAccepted: pkgerrors.New(pkgerrors.CodeInvalidTransition, "already accepted"),
		},
	}
	routingSvc := &fakeRouting{acceptOutcome: &routing.AcceptOutcome{
		Broadcast:       &models.RoutingBroadcast{ID: uuid.New(), OrderID: order.ID},
		WinnerID:        winner,
		AlreadyAccepted: true,
	}}
	svc := newFulfillment(t, orders, &fakeCredit{}, routingSvc)

	got, err := svc.HandleWinner(context.Background(), uuid.New(), winner)
	if err != nil {
		t.Fatalf("repeat HandleWinner must succeed: %v", err)
	}
	if got.Status != enums.OrderStatusVendorAccepted {
		t.Fatalf("expected VENDOR_ACCEPTED, got %s", got.Status)
	}
}

func TestService_CompleteDeliveryConvertsHold(t *testing.T) {
	order := newOrder(enums.OrderStatusOutForDelivery)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{}
	svc := newFulfillment(t, orders, credit, &fakeRouting{})

	got, err := svc.CompleteDelivery(context.Background(), order.ID, "driver")
	if err != nil {
		t.Fatalf("CompleteDelivery error: %v", err)
	}
	if got.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", got.Status)
	}
	if !credit.converted {
		t.Fatalf("hold not converted to debit")
	}
}

func TestService_CompleteDeliveryGuardBlocksConversion(t *testing.T) {
	order := newOrder(enums.OrderStatusOutForDelivery)
	orders := &fakeOrders{
		order: order,
		failOn: map[enums.OrderStatus]error{
			enums.OrderStatusDelivered: pkgerrors.New(pkgerrors.CodeMissingCreditReservation, "no reservation on record"),
		},
	}
	credit := &fakeCredit{}
	svc := newFulfillment(t, orders, credit, &fakeRouting{})

	_, err := svc.CompleteDelivery(context.Background(), order.ID, "driver")
	if !pkgerrors.HasCode(err, pkgerrors.CodeMissingCreditReservation) {
		t.Fatalf("expected MISSING_CREDIT_RESERVATION, got %v", err)
	}
	if credit.converted {
		t.Fatalf("conversion must not run when delivery is refused")
	}
}

func TestService_CancelReleasesHold(t *testing.T) {
	order := newOrder(enums.OrderStatusPendingBids)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{}
	svc := newFulfillment(t, orders, credit, &fakeRouting{})

	got, err := svc.Cancel(context.Background(), order.ID, "buyer", "changed mind")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if got.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if !credit.released {
		t.Fatalf("hold not released")
	}
}

func TestService_CancelBeforeReservationSkipsRelease(t *testing.T) {
	order := newOrder(enums.OrderStatusValidated)
	orders := &fakeOrders{order: order}
	credit := &fakeCredit{releaseErr: pkgerrors.New(pkgerrors.CodeInvalidState, "reservation not found")}
	svc := newFulfillment(t, orders, credit, &fakeRouting{})

	got, err := svc.Cancel(context.Background(), order.ID, "buyer", "abandoned")
	if err != nil {
		t.Fatalf("Cancel must tolerate a missing reservation: %v", err)
	}
	if got.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}

func TestService_TimeoutRebroadcastsOnce(t *testing.T) {
	order := newOrder(enums.OrderStatusPendingBids)
	broadcast := &models.RoutingBroadcast{ID: uuid.New(), OrderID: order.ID, Attempt: 1}
	routingSvc := &fakeRouting{
		timeout:     &routing.TimeoutOutcome{Broadcast: broadcast, Expired: true, CanRetry: true},
		rebroadcast: broadcast,
	}
	svc := newFulfillment(t, &fakeOrders{order: order}, &fakeCredit{}, routingSvc)

	decision, err := svc.HandleBroadcastTimeout(context.Background(), broadcast.ID)
	if err != nil {
		t.Fatalf("HandleBroadcastTimeout error: %v", err)
	}
	if !decision.Expired || !decision.Rebroadcasted || decision.OrderFailed {
		t.Fatalf("expected rebroadcast decision, got %+v", decision)
	}
	if routingSvc.rebroadcastN != 1 {
		t.Fatalf("expected one rebroadcast, got %d", routingSvc.rebroadcastN)
	}
	if order.Status != enums.OrderStatusPendingBids {
		t.Fatalf("order must stay PENDING_BIDS, got %s", order.Status)
	}
}

func TestService_TimeoutExhaustedReleasesAndFails(t *testing.T) {
	order := newOrder(enums.OrderStatusPendingBids)
	broadcast := &models.RoutingBroadcast{ID: uuid.New(), OrderID: order.ID, Attempt: 2}
	credit := &fakeCredit{}
	routingSvc := &fakeRouting{
		timeout: &routing.TimeoutOutcome{Broadcast: broadcast, Expired: true, CanRetry: false},
	}
	svc := newFulfillment(t, &fakeOrders{order: order}, credit, routingSvc)

	decision, err := svc.HandleBroadcastTimeout(context.Background(), broadcast.ID)
	if err != nil {
		t.Fatalf("HandleBroadcastTimeout error: %v", err)
	}
	if !decision.Expired || !decision.OrderFailed || decision.Rebroadcasted {
		t.Fatalf("expected fail decision, got %+v", decision)
	}
	if !credit.released {
		t.Fatalf("credit hold not released")
	}
	if order.Status != enums.OrderStatusFailed {
		t.Fatalf("expected FAILED, got %s", order.Status)
	}
}

func TestService_TimeoutOnStillOpenBroadcastIsNoop(t *testing.T) {
	order := newOrder(enums.OrderStatusPendingBids)
	broadcast := &models.RoutingBroadcast{ID: uuid.New(), OrderID: order.ID}
	routingSvc := &fakeRouting{timeout: &routing.TimeoutOutcome{Broadcast: broadcast}}
	svc := newFulfillment(t, &fakeOrders{order: order}, &fakeCredit{}, routingSvc)

	decision, err := svc.HandleBroadcastTimeout(context.Background(), broadcast.ID)
	if err != nil {
		t.Fatalf("HandleBroadcastTimeout error: %v", err)
	}
	if decision.Expired || decision.Rebroadcasted || decision.OrderFailed {
		t.Fatalf("expected no-op, got %+v", decision)
	}
}
