package returns

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"savi/m/domain"
	"savi/m/internal/events"
)

type State int

const (
	Idle State = iota
	Reconciling
	Ready
	Confirming
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reconciling:
		return "reconciling"
	case Ready:
		return "ready"
	case Confirming:
		return "confirming"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState  = errors.New("invalid return flow state")
	ErrCancelled     = errors.New("return flow was cancelled")
	ErrNotInSale     = errors.New("product is not part of the sale")
	ErrNotSelectable = errors.New("product has nothing left to return")
)

// IneligibleError is returned when the eligibility gate blocks a submission.
type IneligibleError struct {
	SaleID int64
	Reason string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("sale %d cannot be returned: %s", e.SaleID, e.Reason)
}

// Backend is what the flow needs from the REST API.
type Backend interface {
	Validator
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSaleReturns(ctx context.Context, saleID int64) ([]domain.ReturnRecord, error)
	CreateReturn(ctx context.Context, req domain.CreateReturnRequest) (*domain.ReturnRecord, error)
}

// Flow drives one return from opening a sale to submission:
// idle → reconciling → ready → confirming → submitting → idle, or back to ready on failure.
type Flow struct {
	mu      sync.Mutex
	backend Backend
	gate    *Gate
	bus     events.Bus
	taxRate decimal.Decimal

	state State
	gen   uint64
	sale  *domain.Sale
	avail Availability
	draft Draft
}

// NewFlow builds an idle flow. bus may be nil.
func NewFlow(backend Backend, taxRate decimal.Decimal, bus events.Bus) *Flow {
	return &Flow{
		backend: backend,
		gate:    NewGate(backend),
		bus:     bus,
		taxRate: taxRate,
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, f.state)
}

// Open loads the sale and every prior return of it. Quantities cannot be edited until this
// succeeds; if prior returns cannot be loaded the flow goes back to idle instead of assuming
// everything is returnable.
func (f *Flow) Open(ctx context.Context, saleID int64) (Availability, error) {
	f.mu.Lock()
	if f.state != Idle {
		defer f.mu.Unlock()
		return Availability{}, f.invalid("open a sale")
	}
	f.state = Reconciling
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	sale, err := f.backend.GetSale(ctx, saleID)
	var prior []domain.ReturnRecord
	if err == nil {
		prior, err = f.backend.ListSaleReturns(ctx, saleID)
		if err != nil {
			err = fmt.Errorf("load prior returns: %w", err)
		}
	} else {
		err = fmt.Errorf("load sale %d: %w", saleID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return Availability{}, ErrCancelled
	}
	if err != nil {
		f.state = Idle
		return Availability{}, err
	}
	f.sale = sale
	f.avail = Reconcile(*sale, prior)
	f.draft = Draft{Quantities: make(map[int64]int64), Action: domain.ReturnRefund}
	f.state = Ready
	return f.avail, nil
}

// Sale is the sale being returned, nil while idle.
func (f *Flow) Sale() *domain.Sale {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sale
}

// Availability is the reconciled view of the open sale.
func (f *Flow) Availability() Availability {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avail
}

// SetQuantity records how many units of a product to return, clamped to what is available.
// It returns the quantity actually kept.
func (f *Flow) SetQuantity(productID, quantity int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Ready {
		return 0, f.invalid("change quantities")
	}
	line, ok := f.avail.Line(productID)
	if !ok {
		return 0, ErrNotInSale
	}
	if !line.Selectable() {
		f.draft.Quantities[productID] = 0
		if quantity > 0 {
			return 0, ErrNotSelectable
		}
		return 0, nil
	}
	kept := line.Clamp(quantity)
	f.draft.Quantities[productID] = kept
	return kept, nil
}

// Quantity is the currently selected quantity for a product.
func (f *Flow) Quantity(productID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.Quantities[productID]
}

func (f *Flow) SetAction(action domain.ReturnAction) error {
	if !action.Valid() {
		return ErrInvalidAction
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Ready {
		return f.invalid("change the action")
	}
	f.draft.Action = action
	return nil
}

// SetRefundMethod overrides the refund method; an empty method restores the default.
func (f *Flow) SetRefundMethod(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Ready {
		return f.invalid("change the refund method")
	}
	if method == "" {
		f.draft.RefundMethod = nil
		return nil
	}
	f.draft.RefundMethod = &method
	return nil
}

func (f *Flow) SetReason(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Ready {
		return f.invalid("change the reason")
	}
	if reason == "" {
		f.draft.Reason = nil
		return nil
	}
	f.draft.Reason = &reason
	return nil
}

func (f *Flow) SetExchangeItems(items []domain.SaleLineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Ready {
		return f.invalid("change exchange items")
	}
	f.draft.Exchange = append([]domain.SaleLineItem(nil), items...)
	return nil
}

// Confirm validates the draft locally and moves to the confirmation step.
func (f *Flow) Confirm() (Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Ready {
		return Summary{}, f.invalid("confirm")
	}
	req, err := BuildRequest(*f.sale, f.avail, f.draft)
	if err != nil {
		return Summary{}, err
	}
	f.state = Confirming
	return summarize(req, f.taxRate), nil
}

// Back leaves the confirmation step with the draft intact.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Confirming {
		return f.invalid("go back")
	}
	f.state = Ready
	return nil
}

// Cancel discards the draft from any state. Nothing is sent.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
}

func (f *Flow) reset() {
	f.gen++
	f.state = Idle
	f.sale = nil
	f.avail = Availability{}
	f.draft = Draft{}
}

// Submit runs the eligibility gate and then posts the return once. A blocked or failed
// submission returns to ready with every input preserved.
func (f *Flow) Submit(ctx context.Context) (*domain.ReturnRecord, error) {
	f.mu.Lock()
	if f.state != Confirming {
		defer f.mu.Unlock()
		return nil, f.invalid("submit")
	}
	req, err := BuildRequest(*f.sale, f.avail, f.draft)
	if err != nil {
		f.state = Ready
		f.mu.Unlock()
		return nil, err
	}
	f.state = Submitting
	gen := f.gen
	f.mu.Unlock()

	if decision := f.gate.Check(ctx, req.SaleID); !decision.OK {
		f.backToReady(gen)
		return nil, &IneligibleError{SaleID: req.SaleID, Reason: decision.Reason}
	}
	if f.cancelled(gen) {
		return nil, ErrCancelled
	}

	rec, err := f.backend.CreateReturn(ctx, req)
	if err != nil {
		f.backToReady(gen)
		return nil, err
	}

	f.mu.Lock()
	if f.gen == gen {
		f.reset()
	}
	f.mu.Unlock()

	_ = events.Emit(ctx, f.bus, events.ReturnCompleted, rec)
	return rec, nil
}

// cancelled reports whether Cancel ran since the submission with generation gen started.
func (f *Flow) cancelled(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen != gen
}

func (f *Flow) backToReady(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen == gen {
		f.state = Ready
	}
}
