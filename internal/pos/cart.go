// Package pos holds the point-of-sale cart that backs an in-progress sale.
package pos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"savi/m/domain"
	"savi/m/internal/events"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrInvalidPayment     = errors.New("payment method must be cash, card or transfer")
)

// CartLineItem is one product in the cart. Quantity stays within (0, Product.Stock].
type CartLineItem struct {
	Product  domain.Product `json:"product"`
	Quantity int64          `json:"quantity"`
}

// Warning reports a cart change that was refused. It is shown to the cashier, not raised.
type Warning struct {
	ProductID int64
	Message   string
}

func (w Warning) String() string { return w.Message }

// SaleCreator submits a finished cart to the backend.
type SaleCreator interface {
	CreateSale(ctx context.Context, req domain.CreateSaleRequest, idempotencyKey string) (*domain.Sale, error)
}

type Cart struct {
	mu          sync.Mutex
	items       []CartLineItem
	taxRate     decimal.Decimal
	checkingOut bool
	bus         events.Bus
}

// NewCart returns an empty cart. bus may be nil.
func NewCart(taxRate decimal.Decimal, bus events.Bus) *Cart {
	return &Cart{taxRate: taxRate, bus: bus}
}

func (c *Cart) indexOf(productID int64) int {
	for i, item := range c.items {
		if item.Product.ID == productID {
			return i
		}
	}
	return -1
}

func stockWarning(p domain.Product) *Warning {
	return &Warning{
		ProductID: p.ID,
		Message:   fmt.Sprintf("not enough stock for %s (available: %d)", p.Name, p.Stock),
	}
}

// Add puts one unit of p in the cart.
func (c *Cart) Add(p domain.Product) *Warning {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(p.ID); i >= 0 {
		if c.items[i].Quantity+1 > p.Stock {
			return stockWarning(p)
		}
		c.items[i].Product = p
		c.items[i].Quantity++
		return nil
	}
	if p.Stock < 1 {
		return stockWarning(p)
	}
	c.items = append(c.items, CartLineItem{Product: p, Quantity: 1})
	return nil
}

// UpdateQuantity replaces a line's quantity. Zero or less removes the line; more than the
// product's stock is refused and the previous quantity kept.
func (c *Cart) UpdateQuantity(productID, quantity int64) *Warning {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return nil
	}
	if quantity <= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
		return nil
	}
	if quantity > c.items[i].Product.Stock {
		return stockWarning(c.items[i].Product)
	}
	c.items[i].Quantity = quantity
	return nil
}

func (c *Cart) Remove(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(productID); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

// Clear empties the cart and drops any checkout-in-progress flag.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.checkingOut = false
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []CartLineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CartLineItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cart) CheckingOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkingOut
}

// Totals is recomputed from the current lines on every call.
func (c *Cart) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeTotals(c.items, c.taxRate)
}

// SaleRequest snapshots the cart into the single create-sale payload.
func (c *Cart) SaleRequest(method domain.PaymentMethod) domain.CreateSaleRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saleRequestLocked(method)
}

func (c *Cart) saleRequestLocked(method domain.PaymentMethod) domain.CreateSaleRequest {
	lines := make([]domain.SaleLineItem, 0, len(c.items))
	for _, item := range c.items {
		lines = append(lines, domain.NewSaleLineItem(item.Product.ID, item.Product.Name, item.Quantity, item.Product.Price))
	}
	totals := ComputeTotals(c.items, c.taxRate)
	return domain.CreateSaleRequest{
		Items:         lines,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Discount:      decimal.Zero,
		Total:         totals.Total,
		PaymentMethod: method,
	}
}

// Checkout submits the cart as one sale. The cart is cleared only when the backend accepts it;
// on failure it is left as it was so the cashier can fix and retry.
func (c *Cart) Checkout(ctx context.Context, creator SaleCreator, method domain.PaymentMethod) (*domain.Sale, error) {
	if !method.Valid() {
		return nil, ErrInvalidPayment
	}

	c.mu.Lock()
	if c.checkingOut {
		c.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	if len(c.items) == 0 {
		c.mu.Unlock()
		return nil, ErrEmptyCart
	}
	c.checkingOut = true
	req := c.saleRequestLocked(method)
	c.mu.Unlock()

	sale, err := creator.CreateSale(ctx, req, uuid.NewString())

	c.mu.Lock()
	c.checkingOut = false
	if err == nil {
		c.items = nil
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	_ = events.Emit(ctx, c.bus, events.SaleCompleted, sale)
	return sale, nil
}
