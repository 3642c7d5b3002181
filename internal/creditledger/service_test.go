package creditledger

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stockroom-hq/stockroom-backend/pkg/config"
	"github.com/stockroom-hq/stockroom-backend/pkg/db/models"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
	"github.com/stockroom-hq/stockroom-backend/pkg/outbox"
)

// fakeRepository keeps the account, reservations and ledger in memory and
// recomputes aggregates the way the real queries do.
type fakeRepository struct {
	account      *models.CreditAccount
	reservations map[uuid.UUID]*models.CreditReservation
	entries      []models.LedgerEntry
	lockErr      error
}

func newFakeRepository(limit int64) *fakeRepository {
	return &fakeRepository{
		account: &models.CreditAccount{
			ID:         uuid.New(),
			BuyerID:    uuid.New(),
			SupplierID: uuid.New(),
			Limit:      decimal.NewFromInt(limit),
		},
		reservations: make(map[uuid.UUID]*models.CreditReservation),
	}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	account.ID = uuid.New()
	f.account = account
	return nil
}

func (f *fakeRepository) FindAccount(ctx context.Context, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error) {
	if f.account == nil || f.account.BuyerID != buyerID || f.account.SupplierID != supplierID {
		return nil, gorm.ErrRecordNotFound
	}
	return f.account, nil
}

func (f *fakeRepository) LockAccount(ctx context.Context, buyerID, supplierID uuid.UUID) (*models.CreditAccount, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	return f.FindAccount(ctx, buyerID, supplierID)
}

func (f *fakeRepository) SetAccountBlocked(ctx context.Context, id uuid.UUID, blocked bool) error {
	f.account.Blocked = blocked
	return nil
}

func (f *fakeRepository) CreateReservation(ctx context.Context, reservation *models.CreditReservation) error {
	reservation.ID = uuid.New()
	f.reservations[reservation.OrderID] = reservation
	return nil
}

func (f *fakeRepository) FindReservationByOrder(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error) {
	if reservation, ok := f.reservations[orderID]; ok {
		return reservation, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) LockReservationByOrder(ctx context.Context, orderID uuid.UUID) (*models.CreditReservation, error) {
	return f.FindReservationByOrder(ctx, orderID)
}

func (f *fakeRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (int64, error) {
	for _, reservation := range f.reservations {
		if reservation.ID == id && reservation.Status == from {
			reservation.Status = to
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeRepository) SumActiveReservations(ctx context.Context, buyerID, supplierID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, reservation := range f.reservations {
		if reservation.Status == enums.ReservationStatusActive {
			sum = sum.Add(reservation.Amount)
		}
	}
	return sum, nil
}

func (f *fakeRepository) EntryTotals(ctx context.Context, buyerID, supplierID uuid.UUID) (map[enums.LedgerEntryType]decimal.Decimal, error) {
	totals := make(map[enums.LedgerEntryType]decimal.Decimal)
	for _, entry := range f.entries {
		totals[entry.EntryType] = totals[entry.EntryType].Add(entry.Amount)
	}
	return totals, nil
}

func (f *fakeRepository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	entry.ID = uuid.New()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeRepository) ListEntries(ctx context.Context, buyerID, supplierID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	return f.entries, nil
}

type fakeTxRunner struct {
	failures int
	err      error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return fn(&gorm.DB{})
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestService(t *testing.T, repo Repository, runner txRunner) (Service, *fakeOutbox) {
	t.Helper()
	ob := &fakeOutbox{}
	logg := logger.New(logger.Options{ServiceName: "creditledger-test", Output: io.Discard})
	svc, err := NewService(repo, runner, ob, logg, config.LedgerConfig{
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc, ob
}

func TestService_ReserveThenAvailable(t *testing.T) {
	repo := newFakeRepository(100_000)
	svc, _ := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()

	reservation, err := svc.Reserve(ctx, ReserveInput{
		OrderID:    uuid.New(),
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(75_000),
	})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if reservation.Status != enums.ReservationStatusActive {
		t.Fatalf("expected ACTIVE, got %s", reservation.Status)
	}

	available, err := svc.GetAvailableCredit(ctx, repo.account.BuyerID, repo.account.SupplierID)
	if err != nil {
		t.Fatalf("GetAvailableCredit error: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(25_000)) {
		t.Fatalf("expected 25000 available, got %s", available)
	}

	// Second reserve exceeds the remaining credit and reports the shortfall.
	_, err = svc.Reserve(ctx, ReserveInput{
		OrderID:    uuid.New(),
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(40_000),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCredit) {
		t.Fatalf("expected INSUFFICIENT_CREDIT, got %v", err)
	}
	appErr := pkgerrors.As(err)
	details, ok := appErr.Details().(InsufficientCreditDetails)
	if !ok {
		t.Fatalf("expected shortfall details, got %T", appErr.Details())
	}
	if !details.Shortfall.Equal(decimal.NewFromInt(15_000)) {
		t.Fatalf("expected shortfall 15000, got %s", details.Shortfall)
	}

	available, err = svc.GetAvailableCredit(ctx, repo.account.BuyerID, repo.account.SupplierID)
	if err != nil {
		t.Fatalf("GetAvailableCredit error: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(25_000)) {
		t.Fatalf("decline must not change available credit, got %s", available)
	}
}

func TestService_ReserveIsIdempotentPerOrder(t *testing.T) {
	repo := newFakeRepository(100_000)
	svc, _ := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()
	orderID := uuid.New()

	first, err := svc.Reserve(ctx, ReserveInput{
		OrderID:    orderID,
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(10_000),
	})
	if err != nil {
		t.Fatalf("first Reserve error: %v", err)
	}

	second, err := svc.Reserve(ctx, ReserveInput{
		OrderID:    orderID,
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(10_000),
	})
	if err != nil {
		t.Fatalf("second Reserve error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same reservation, got %s and %s", first.ID, second.ID)
	}
	if len(repo.reservations) != 1 {
		t.Fatalf("expected one reservation, got %d", len(repo.reservations))
	}
}

func TestService_ReserveBlockedAccount(t *testing.T) {
	repo := newFakeRepository(100_000)
	repo.account.Blocked = true
	svc, ob := newTestService(t, repo, &fakeTxRunner{})

	orderID := uuid.New()
	_, err := svc.Reserve(context.Background(), ReserveInput{
		OrderID:    orderID,
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(1),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeAccountBlocked) {
		t.Fatalf("expected ACCOUNT_BLOCKED, got %v", err)
	}
	if len(ob.events) != 1 || ob.events[0].EventType != enums.EventReservationDeclined {
		t.Fatalf("expected decline event, got %+v", ob.events)
	}
	// The decline is an order-scoped fact; the aggregate must say so.
	if ob.events[0].AggregateType != enums.AggregateOrder || ob.events[0].AggregateID != orderID {
		t.Fatalf("unexpected decline aggregate: %s %s", ob.events[0].AggregateType, ob.events[0].AggregateID)
	}
}

func TestService_ReserveSystemBusyAfterRetries(t *testing.T) {
	repo := newFakeRepository(100_000)
	runner := &fakeTxRunner{failures: 5, err: errors.New("database is locked")}
	svc, _ := newTestService(t, repo, runner)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		OrderID:    uuid.New(),
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(1),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeSystemBusy) {
		t.Fatalf("expected SYSTEM_BUSY, got %v", err)
	}
}

func TestService_ReserveRecoversFromTransientContention(t *testing.T) {
	repo := newFakeRepository(100_000)
	runner := &fakeTxRunner{failures: 2, err: errors.New("database is locked")}
	svc, _ := newTestService(t, repo, runner)

	reservation, err := svc.Reserve(context.Background(), ReserveInput{
		OrderID:    uuid.New(),
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("Reserve should succeed on third attempt: %v", err)
	}
	if reservation == nil || reservation.Status != enums.ReservationStatusActive {
		t.Fatalf("unexpected reservation %+v", reservation)
	}
}

func TestService_ReleaseIsIdempotent(t *testing.T) {
	repo := newFakeRepository(100_000)
	svc, ob := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.Reserve(ctx, ReserveInput{
		OrderID:    orderID,
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(30_000),
	}); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}

	released, err := svc.Release(ctx, orderID, "order cancelled")
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if released.Status != enums.ReservationStatusReleased {
		t.Fatalf("expected RELEASED, got %s", released.Status)
	}

	again, err := svc.Release(ctx, orderID, "order cancelled")
	if err != nil {
		t.Fatalf("repeat Release must be a no-op: %v", err)
	}
	if again.Status != enums.ReservationStatusReleased {
		t.Fatalf("expected RELEASED, got %s", again.Status)
	}
	releaseEvents := 0
	for _, event := range ob.events {
		if event.EventType == enums.EventReservationReleased {
			releaseEvents++
		}
	}
	if releaseEvents != 1 {
		t.Fatalf("expected one release event, got %d", releaseEvents)
	}

	available, err := svc.GetAvailableCredit(ctx, repo.account.BuyerID, repo.account.SupplierID)
	if err != nil {
		t.Fatalf("GetAvailableCredit error: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("release must restore the full limit, got %s", available)
	}
}

func TestService_ReleaseUnknownReservation(t *testing.T) {
	repo := newFakeRepository(100_000)
	svc, _ := newTestService(t, repo, &fakeTxRunner{})

	_, err := svc.Release(context.Background(), uuid.New(), "nothing to release")
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestService_ConvertAfterReleaseFails(t *testing.T) {
	repo := newFakeRepository(100_000)
	svc, _ := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.Reserve(ctx, ReserveInput{
		OrderID:    orderID,
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(20_000),
	}); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := svc.Release(ctx, orderID, "order cancelled"); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	_, err := svc.ConvertToDebit(ctx, orderID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestService_ConvertWritesDebit(t *testing.T) {
	repo := newFakeRepository(100_000)
	svc, ob := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()
	orderID := uuid.New()

	if _, err := svc.Reserve(ctx, ReserveInput{
		OrderID:    orderID,
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(60_000),
	}); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}

	converted, err := svc.ConvertToDebit(ctx, orderID)
	if err != nil {
		t.Fatalf("ConvertToDebit error: %v", err)
	}
	if converted.Status != enums.ReservationStatusConverted {
		t.Fatalf("expected CONVERTED, got %s", converted.Status)
	}

	// The hold became a debit: available stays down by the converted amount.
	available, err := svc.GetAvailableCredit(ctx, repo.account.BuyerID, repo.account.SupplierID)
	if err != nil {
		t.Fatalf("GetAvailableCredit error: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(40_000)) {
		t.Fatalf("expected 40000 available after conversion, got %s", available)
	}

	found := false
	for _, event := range ob.events {
		if event.EventType == enums.EventReservationConverted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected conversion event, got %+v", ob.events)
	}
}

func TestService_CanReserveIsAdvisory(t *testing.T) {
	repo := newFakeRepository(50_000)
	svc, _ := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()

	ok, err := svc.CanReserve(ctx, repo.account.BuyerID, repo.account.SupplierID, decimal.NewFromInt(50_000))
	if err != nil || !ok {
		t.Fatalf("expected advisory yes, got %v %v", ok, err)
	}
	ok, err = svc.CanReserve(ctx, repo.account.BuyerID, repo.account.SupplierID, decimal.NewFromInt(50_001))
	if err != nil || ok {
		t.Fatalf("expected advisory no, got %v %v", ok, err)
	}

	repo.account.Blocked = true
	ok, err = svc.CanReserve(ctx, repo.account.BuyerID, repo.account.SupplierID, decimal.NewFromInt(1))
	if err != nil || ok {
		t.Fatalf("blocked account must answer no, got %v %v", ok, err)
	}
}

func TestService_SetBlockedEmitsOnce(t *testing.T) {
	repo := newFakeRepository(10_000)
	svc, ob := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()

	if err := svc.SetBlocked(ctx, repo.account.BuyerID, repo.account.SupplierID, true); err != nil {
		t.Fatalf("SetBlocked error: %v", err)
	}
	if !repo.account.Blocked {
		t.Fatalf("account should be blocked")
	}
	// Repeat is a no-op and emits nothing.
	if err := svc.SetBlocked(ctx, repo.account.BuyerID, repo.account.SupplierID, true); err != nil {
		t.Fatalf("repeat SetBlocked error: %v", err)
	}
	if len(ob.events) != 1 {
		t.Fatalf("expected one block event, got %d", len(ob.events))
	}
}

func TestService_RecordAdjustmentReducesAvailable(t *testing.T) {
	repo := newFakeRepository(10_000)
	svc, _ := newTestService(t, repo, &fakeTxRunner{})
	ctx := context.Background()

	memo := "damaged pallet chargeback"
	if _, err := svc.RecordAdjustment(ctx, AdjustmentInput{
		BuyerID:    repo.account.BuyerID,
		SupplierID: repo.account.SupplierID,
		Amount:     decimal.NewFromInt(2_500),
		Memo:       &memo,
	}); err != nil {
		t.Fatalf("RecordAdjustment error: %v", err)
	}

	available, err := svc.GetAvailableCredit(ctx, repo.account.BuyerID, repo.account.SupplierID)
	if err != nil {
		t.Fatalf("GetAvailableCredit error: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(7_500)) {
		t.Fatalf("expected 7500 available, got %s", available)
	}
}
