package returns

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savi/m/domain"
	"savi/m/internal/events"
)

type fakeBackend struct {
	mu          sync.Mutex
	sale        *domain.Sale
	prior       []domain.ReturnRecord
	eligibility *domain.ReturnEligibility
	saleErr     error
	priorErr    error
	createErr   error
	created     []domain.CreateReturnRequest
	validated   int
}

func (b *fakeBackend) ValidateReturn(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validated++
	if b.eligibility == nil {
		return &domain.ReturnEligibility{OK: true}, nil
	}
	return b.eligibility, nil
}

func (b *fakeBackend) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	if b.saleErr != nil {
		return nil, b.saleErr
	}
	return b.sale, nil
}

func (b *fakeBackend) ListSaleReturns(ctx context.Context, saleID int64) ([]domain.ReturnRecord, error) {
	return b.prior, b.priorErr
}

func (b *fakeBackend) CreateReturn(ctx context.Context, req domain.CreateReturnRequest) (*domain.ReturnRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, req)
	if b.createErr != nil {
		return nil, b.createErr
	}
	return &domain.ReturnRecord{ID: int64(len(b.created)), SaleID: req.SaleID, ItemsReturned: req.ItemsReturned, Action: req.Action, RefundMethod: req.RefundMethod, Status: "completed"}, nil
}

func widgetSale() *domain.Sale {
	return &domain.Sale{
		ID:            42,
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleCompleted,
		Items:         []domain.SaleLineItem{line(1, "Widget", 5, "20")},
	}
}

func TestFlowEndToEndPayload(t *testing.T) {
	backend := &fakeBackend{sale: widgetSale()}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	avail, err := flow.Open(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, Ready, flow.State())
	assert.Equal(t, int64(5), avail.Available(1))

	kept, err := flow.SetQuantity(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), kept)
	require.NoError(t, flow.SetAction(domain.ReturnRefund))

	summary, err := flow.Confirm()
	require.NoError(t, err)
	assert.Equal(t, Confirming, flow.State())
	assert.Equal(t, int64(42), summary.SaleID)
	assert.Equal(t, "cash", summary.RefundMethod)
	assert.Equal(t, "40.00", summary.Refund.Subtotal.StringFixed(2))

	rec, err := flow.Submit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, Idle, flow.State())
	assert.Nil(t, flow.Sale())

	require.Len(t, backend.created, 1)
	body, err := json.Marshal(backend.created[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"sale_id": 42,
		"items_returned": [{"product_id": 1, "product_name": "Widget", "quantity": 2, "unit_price": 20, "subtotal": 40}],
		"action": "refund",
		"refund_method": "cash"
	}`, string(body))
}

func TestFlowClampsRequestedQuantity(t *testing.T) {
	sale := &domain.Sale{ID: 5, PaymentMethod: domain.PaymentCash, Items: []domain.SaleLineItem{line(7, "Arroz", 10, "20")}}
	backend := &fakeBackend{sale: sale, prior: []domain.ReturnRecord{returnOf(5, line(7, "Arroz", 6, "20"))}}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	_, err := flow.Open(context.Background(), 5)
	require.NoError(t, err)
	kept, err := flow.SetQuantity(7, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(4), kept)

	_, err = flow.Confirm()
	require.NoError(t, err)
	_, err = flow.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, backend.created, 1)
	assert.Equal(t, int64(4), backend.created[0].ItemsReturned[0].Quantity)
}

func TestFlowIneligibleSaleIsNeverPosted(t *testing.T) {
	backend := &fakeBackend{
		sale:        widgetSale(),
		eligibility: &domain.ReturnEligibility{OK: false, Reason: "the 30-day return window closed on 2024-01-31"},
	}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	_, err := flow.Open(context.Background(), 42)
	require.NoError(t, err)
	_, err = flow.SetQuantity(1, 1)
	require.NoError(t, err)
	_, err = flow.Confirm()
	require.NoError(t, err)

	_, err = flow.Submit(context.Background())
	var inel *IneligibleError
	require.ErrorAs(t, err, &inel)
	assert.Contains(t, inel.Reason, "return window closed")
	assert.Empty(t, backend.created)
	assert.Equal(t, 1, backend.validated)

	assert.Equal(t, Ready, flow.State())
	assert.Equal(t, int64(1), flow.Quantity(1), "inputs survive a blocked submission")
}

func TestFlowSubmitFailureKeepsDraft(t *testing.T) {
	backend := &fakeBackend{sale: widgetSale(), createErr: errors.New("return quantity exceeds what is available")}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	_, err := flow.Open(context.Background(), 42)
	require.NoError(t, err)
	_, err = flow.SetQuantity(1, 3)
	require.NoError(t, err)
	require.NoError(t, flow.SetReason("damaged"))
	_, err = flow.Confirm()
	require.NoError(t, err)

	_, err = flow.Submit(context.Background())
	require.EqualError(t, err, "return quantity exceeds what is available")
	assert.Equal(t, Ready, flow.State())
	assert.Equal(t, int64(3), flow.Quantity(1))

	backend.createErr = nil
	_, err = flow.Confirm()
	require.NoError(t, err)
	_, err = flow.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, backend.created, 2)
	require.NotNil(t, backend.created[1].Reason)
	assert.Equal(t, "damaged", *backend.created[1].Reason)
}

func TestFlowPriorReturnsFailureReturnsToIdle(t *testing.T) {
	backend := &fakeBackend{sale: widgetSale(), priorErr: errors.New("connection refused")}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	_, err := flow.Open(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load prior returns")
	assert.Equal(t, Idle, flow.State())

	_, err = flow.SetQuantity(1, 1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFlowStateGuards(t *testing.T) {
	backend := &fakeBackend{sale: widgetSale()}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	_, err := flow.Confirm()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = flow.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = flow.Open(context.Background(), 42)
	require.NoError(t, err)
	_, err = flow.Open(context.Background(), 42)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = flow.SetQuantity(99, 1)
	assert.ErrorIs(t, err, ErrNotInSale)
	assert.ErrorIs(t, flow.SetAction("swap"), ErrInvalidAction)

	_, err = flow.Confirm()
	assert.ErrorIs(t, err, ErrNothingToReturn)
	assert.Equal(t, Ready, flow.State())

	_, err = flow.SetQuantity(1, 1)
	require.NoError(t, err)
	_, err = flow.Confirm()
	require.NoError(t, err)
	assert.ErrorIs(t, flow.SetReason("x"), ErrInvalidState, "inputs are frozen while confirming")
	require.NoError(t, flow.Back())
	assert.Equal(t, Ready, flow.State())

	flow.Cancel()
	assert.Equal(t, Idle, flow.State())
	assert.Empty(t, backend.created)
}

func TestFlowFullyReturnedLineIsNotSelectable(t *testing.T) {
	backend := &fakeBackend{sale: widgetSale(), prior: []domain.ReturnRecord{returnOf(42, line(1, "Widget", 5, "20"))}}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	avail, err := flow.Open(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, avail.AnyAvailable())

	_, err = flow.SetQuantity(1, 1)
	assert.ErrorIs(t, err, ErrNotSelectable)
}

func TestFlowCancelDuringOpen(t *testing.T) {
	release := make(chan struct{})
	backend := &blockingBackend{fakeBackend: fakeBackend{sale: widgetSale()}, release: release}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)

	done := make(chan error, 1)
	go func() {
		_, err := flow.Open(context.Background(), 42)
		done <- err
	}()
	require.Eventually(t, func() bool { return flow.State() == Reconciling }, time.Second, 5*time.Millisecond)

	flow.Cancel()
	close(release)
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Equal(t, Idle, flow.State())
}

type cancellingValidator struct {
	fakeBackend
	flow *Flow
}

func (b *cancellingValidator) ValidateReturn(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error) {
	b.flow.Cancel()
	return &domain.ReturnEligibility{OK: true}, nil
}

func TestFlowCancelDuringEligibilityCheckSendsNothing(t *testing.T) {
	backend := &cancellingValidator{fakeBackend: fakeBackend{sale: widgetSale()}}
	flow := NewFlow(backend, decimal.RequireFromString("0.16"), nil)
	backend.flow = flow

	_, err := flow.Open(context.Background(), 42)
	require.NoError(t, err)
	_, err = flow.SetQuantity(1, 1)
	require.NoError(t, err)
	_, err = flow.Confirm()
	require.NoError(t, err)

	rec, err := flow.Submit(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, rec)
	assert.Empty(t, backend.created)
	assert.Equal(t, Idle, flow.State())
}

func TestFlowEmitsReturnCompleted(t *testing.T) {
	bus := events.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	flow := NewFlow(&fakeBackend{sale: widgetSale()}, decimal.RequireFromString("0.16"), bus)
	_, err = flow.Open(ctx, 42)
	require.NoError(t, err)
	_, err = flow.SetQuantity(1, 1)
	require.NoError(t, err)
	_, err = flow.Confirm()
	require.NoError(t, err)
	_, err = flow.Submit(ctx)
	require.NoError(t, err)

	select {
	case ev := <-stream:
		assert.Equal(t, events.ReturnCompleted, ev.Type)
		var rec domain.ReturnRecord
		require.NoError(t, ev.Decode(&rec))
		assert.Equal(t, int64(42), rec.SaleID)
	case <-time.After(time.Second):
		t.Fatal("no return.completed event")
	}
}

type blockingBackend struct {
	fakeBackend
	release chan struct{}
}

func (b *blockingBackend) ListSaleReturns(ctx context.Context, saleID int64) ([]domain.ReturnRecord, error) {
	<-b.release
	return b.fakeBackend.ListSaleReturns(ctx, saleID)
}

func TestGateTreatsErrorsAsBlocking(t *testing.T) {
	gate := NewGate(validatorFunc(func(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error) {
		return nil, errors.New("backend unavailable")
	}))
	d := gate.Check(context.Background(), 1)
	assert.False(t, d.OK)
	assert.Equal(t, "backend unavailable", d.Reason)

	gate = NewGate(validatorFunc(func(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error) {
		return &domain.ReturnEligibility{OK: false}, nil
	}))
	assert.Equal(t, "sale is not eligible for return", gate.Check(context.Background(), 1).Reason)
}

type validatorFunc func(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error)

func (f validatorFunc) ValidateReturn(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error) {
	return f(ctx, saleID)
}
