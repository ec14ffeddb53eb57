package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"

	"savi/m/domain"
	"savi/m/internal/client"
	"savi/m/internal/database"
	"savi/m/internal/events"
	"savi/m/internal/migrations"
	"savi/m/internal/pos"
	"savi/m/internal/returns"
	"savi/m/internal/seed"
)

type testEnv struct {
	db     *sqlx.DB
	client *client.Client
	bus    *events.MemoryBus
	srvURL string
	skew   atomic.Int64
}

// advance moves the server clock forward.
func (e *testEnv) advance(d time.Duration) {
	e.skew.Add(int64(d))
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	_, err = seed.EnsureAdmin(db, "admin", "admin123")
	require.NoError(t, err)

	env := &testEnv{db: db, bus: events.NewMemoryBus()}
	h := New(db, "test-secret", Options{
		Bus: env.bus,
		Now: func() time.Time { return time.Now().Add(time.Duration(env.skew.Load())) },
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	env.srvURL = srv.URL

	env.client = client.New(srv.URL+"/api", 5*time.Second, nil)
	_, err = env.client.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	return env
}

func (e *testEnv) product(t *testing.T, name, sku, price string, stock int64) *domain.Product {
	t.Helper()
	p, err := e.client.CreateProduct(context.Background(), client.ProductInput{
		Name:     name,
		SKU:      &sku,
		Category: "General",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) sell(t *testing.T, p *domain.Product, qty int64, key string) *domain.Sale {
	t.Helper()
	req := domain.CreateSaleRequest{
		Items:         []domain.SaleLineItem{domain.NewSaleLineItem(p.ID, p.Name, qty, p.Price)},
		PaymentMethod: domain.PaymentCash,
	}
	sale, err := e.client.CreateSale(context.Background(), req, key)
	require.NoError(t, err)
	return sale
}

func (e *testEnv) stock(t *testing.T, id int64) int64 {
	t.Helper()
	p, err := e.client.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestHealthAndAuth(t *testing.T) {
	env := setup(t)

	resp, err := http.Get(env.srvURL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	anon := client.New(env.srvURL+"/api", time.Second, nil)
	require.NoError(t, anon.Health(context.Background()))

	_, err = anon.ListProducts(context.Background(), client.ProductQuery{})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))
	assert.Equal(t, "Not authenticated", err.Error())

	_, err = anon.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Incorrect username or password", err.Error())

	anon.SetToken("garbage")
	_, err = anon.ListProducts(context.Background(), client.ProductQuery{})
	assert.Equal(t, "Could not validate credentials", err.Error())
}

func TestCashierCannotManageCatalog(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.client.CreateUser(ctx, client.UserInput{Username: "caja1", FullName: "Caja", Role: domain.RoleCashier, Password: "caja123", IsActive: true})
	require.NoError(t, err)

	cashier := client.New(env.client.BaseURL(), time.Second, nil)
	_, err = cashier.Login(ctx, "caja1", "caja123")
	require.NoError(t, err)

	_, err = cashier.CreateProduct(ctx, client.ProductInput{Name: "X", Price: decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusForbidden, client.StatusOf(err))

	_, err = cashier.ListUsers(ctx, "", 10)
	assert.Equal(t, http.StatusForbidden, client.StatusOf(err))
}

func TestProductCRUD(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	p := env.product(t, "Leche entera 1L", "LAC-001", "27.50", 40)
	assert.Equal(t, "27.5", p.Price.String())

	sku := "LAC-001"
	_, err := env.client.CreateProduct(ctx, client.ProductInput{Name: "Otra", SKU: &sku, Price: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))
	assert.Equal(t, "a product with SKU LAC-001 already exists", err.Error())

	found, err := env.client.SearchProducts(ctx, "lac", 5)
	require.NoError(t, err)
	require.Len(t, found.Items, 1)

	updated, err := env.client.UpdateProduct(ctx, p.ID, client.ProductInput{Name: "Leche 1L", SKU: &sku, Price: decimal.RequireFromString("29"), Stock: 35, HasPromotion: true})
	require.NoError(t, err)
	assert.True(t, updated.HasPromotion)
	assert.Equal(t, int64(35), updated.Stock)

	require.NoError(t, env.client.DeleteProduct(ctx, p.ID))
	_, err = env.client.GetProduct(ctx, p.ID)
	assert.Equal(t, http.StatusNotFound, client.StatusOf(err))
}

func TestCreateSaleUsesCatalogPricesAndStock(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := env.product(t, "Widget", "W-1", "20", 10)

	req := domain.CreateSaleRequest{
		Items:         []domain.SaleLineItem{domain.NewSaleLineItem(p.ID, p.Name, 5, decimal.NewFromInt(1))},
		Total:         decimal.NewFromInt(5),
		PaymentMethod: domain.PaymentCard,
	}
	sale, err := env.client.CreateSale(ctx, req, "")
	require.NoError(t, err)
	assert.Equal(t, "100.00", sale.Subtotal.StringFixed(2))
	assert.Equal(t, "16.00", sale.Tax.StringFixed(2))
	assert.Equal(t, "116.00", sale.Total.StringFixed(2))
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "20.00", sale.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, int64(5), env.stock(t, p.ID))

	req.Items[0].Quantity = 6
	_, err = env.client.CreateSale(ctx, req, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))
	assert.Contains(t, err.Error(), "insufficient stock for Widget")
	assert.Equal(t, int64(5), env.stock(t, p.ID), "a rejected sale leaves stock alone")
}

func TestDeleteSoldProductConflicts(t *testing.T) {
	env := setup(t)
	p := env.product(t, "Widget", "W-1", "20", 10)
	env.sell(t, p, 1, "")

	err := env.client.DeleteProduct(context.Background(), p.ID)
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))
}

func TestCreateSaleIsIdempotent(t *testing.T) {
	env := setup(t)
	p := env.product(t, "Widget", "W-1", "20", 10)

	first := env.sell(t, p, 2, "checkout-1")
	second := env.sell(t, p, 2, "checkout-1")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(8), env.stock(t, p.ID))

	page, err := env.client.ListSales(context.Background(), client.SaleQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestReturnFlowAgainstServer(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := env.product(t, "Widget", "W-1", "20", 10)
	sale := env.sell(t, p, 5, "")

	flow := returns.NewFlow(env.client, pos.DefaultTaxRate, nil)
	avail, err := flow.Open(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), avail.Available(p.ID))

	_, err = flow.SetQuantity(p.ID, 2)
	require.NoError(t, err)
	_, err = flow.Confirm()
	require.NoError(t, err)
	rec, err := flow.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "46.40", rec.TotalRefund.StringFixed(2))
	require.NotNil(t, rec.RefundMethod)
	assert.Equal(t, "cash", *rec.RefundMethod)
	assert.Equal(t, int64(7), env.stock(t, p.ID))

	got, err := env.client.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NetTotal)
	assert.Equal(t, "69.60", got.NetTotal.StringFixed(2))

	avail, err = flow.Open(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), avail.Available(p.ID))
	flow.Cancel()
}

func TestServerEnforcesReturnableQuantity(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := env.product(t, "Widget", "W-1", "20", 10)
	sale := env.sell(t, p, 5, "")

	ret := func(qty int64) error {
		_, err := env.client.CreateReturn(ctx, domain.CreateReturnRequest{
			SaleID:        sale.ID,
			ItemsReturned: []domain.SaleLineItem{domain.NewSaleLineItem(p.ID, p.Name, qty, p.Price)},
			Action:        domain.ReturnCreditNote,
		})
		return err
	}
	require.NoError(t, ret(3))
	err := ret(3)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))
	assert.Equal(t, "only 2 unit(s) of Widget can still be returned", err.Error())
	require.NoError(t, ret(2))

	res, err := env.client.ValidateReturn(ctx, sale.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "every item of this sale has already been returned", res.Reason)

	prior, err := env.client.ListSaleReturns(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, prior, 2)
}

func TestReturnWindow(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := env.product(t, "Widget", "W-1", "20", 10)
	sale := env.sell(t, p, 1, "")

	env.advance(31 * 24 * time.Hour)
	_, err := env.client.Login(ctx, "admin", "admin123")
	require.NoError(t, err, "tokens from before the jump have expired")

	res, err := env.client.ValidateReturn(ctx, sale.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "30-day return window closed")

	_, err = env.client.CreateReturn(ctx, domain.CreateReturnRequest{
		SaleID:        sale.ID,
		ItemsReturned: []domain.SaleLineItem{domain.NewSaleLineItem(p.ID, p.Name, 1, p.Price)},
		Action:        domain.ReturnRefund,
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, client.StatusOf(err))
}

func TestCancelSaleRestocks(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := env.product(t, "Widget", "W-1", "20", 10)
	sale := env.sell(t, p, 4, "")

	cancelled, err := env.client.CancelSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)
	assert.Equal(t, int64(10), env.stock(t, p.ID))

	_, err = env.client.CancelSale(ctx, sale.ID)
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))

	res, err := env.client.ValidateReturn(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "sale is cancelled", res.Reason)
}

func TestExchangeRefundsTheDifference(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	widget := env.product(t, "Widget", "W-1", "20", 10)
	gadget := env.product(t, "Gadget", "G-1", "15", 10)
	sale := env.sell(t, widget, 3, "")

	rec, err := env.client.CreateReturn(ctx, domain.CreateReturnRequest{
		SaleID:         sale.ID,
		ItemsReturned:  []domain.SaleLineItem{domain.NewSaleLineItem(widget.ID, widget.Name, 2, widget.Price)},
		ItemsExchanged: []domain.SaleLineItem{domain.NewSaleLineItem(gadget.ID, gadget.Name, 2, gadget.Price)},
		Action:         domain.ReturnExchange,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.00", rec.SubtotalRefund.StringFixed(2))
	assert.Equal(t, "11.60", rec.TotalRefund.StringFixed(2))
	require.Len(t, rec.ItemsExchanged, 1)
	assert.Equal(t, int64(9), env.stock(t, widget.ID))
	assert.Equal(t, int64(8), env.stock(t, gadget.ID))
}

func TestSalesStatsAndTopProducts(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	widget := env.product(t, "Widget", "W-1", "20", 10)
	gadget := env.product(t, "Gadget", "G-1", "15", 10)
	env.sell(t, widget, 2, "")
	env.sell(t, gadget, 3, "")

	stats, err := env.client.TodayStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Transactions)
	assert.Equal(t, int64(5), stats.ProductsSold)
	assert.Equal(t, "98.60", stats.Revenue.StringFixed(2))

	top, err := env.client.TopProducts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, gadget.ID, top[0].ProductID)

	data, ctype, err := env.client.ExportSales(ctx, client.SaleQuery{}, "csv")
	require.NoError(t, err)
	assert.Contains(t, ctype, "text/csv")
	assert.Contains(t, string(data), "Payment method")
	assert.Contains(t, string(data), "cash")
}

func TestGenerateAlertsCreatesAndResolves(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	empty := env.product(t, "Papel", "P-1", "39.90", 0)
	low := env.product(t, "Jabon", "J-1", "18", 3)
	env.product(t, "Arroz", "A-1", "32", 50)

	res, err := env.client.GenerateAlerts(ctx, domain.AlertThresholds{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	res, err = env.client.GenerateAlerts(ctx, domain.AlertThresholds{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created, "existing conditions are not alerted twice")

	list, err := env.client.ListAlerts(ctx, client.AlertQuery{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 2)

	sku := "J-1"
	_, err = env.client.UpdateProduct(ctx, low.ID, client.ProductInput{Name: low.Name, SKU: &sku, Price: low.Price, Stock: 40})
	require.NoError(t, err)
	res, err = env.client.GenerateAlerts(ctx, domain.AlertThresholds{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)

	list, err = env.client.ListAlerts(ctx, client.AlertQuery{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, empty.ID, list[0].ProductID)
	assert.Equal(t, domain.AlertOutOfStock, list[0].AlertType)

	require.NoError(t, env.client.MarkAlertRead(ctx, list[0].ID))
	stats, err := env.client.AlertStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ActiveAlerts)
	assert.Equal(t, int64(0), stats.UnreadAlerts)
	assert.Equal(t, int64(1), stats.CriticalAlerts)

	_, err = env.client.GenerateAlerts(ctx, domain.AlertThresholds{LowStock: 2, CriticalStock: 5})
	assert.Equal(t, http.StatusBadRequest, client.StatusOf(err))

	assert.Equal(t, http.StatusNotFound, client.StatusOf(env.client.ResolveAlert(ctx, 999)))
}

func TestSaleCreatedIsPublished(t *testing.T) {
	env := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, stop, err := env.bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	p := env.product(t, "Widget", "W-1", "20", 10)
	sale := env.sell(t, p, 1, "")

	select {
	case ev := <-stream:
		assert.Equal(t, events.SaleCreated, ev.Type)
		var got domain.Sale
		require.NoError(t, ev.Decode(&got))
		assert.Equal(t, sale.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("no sale.created event")
	}
}

func TestExportSalesAsSpreadsheet(t *testing.T) {
	env := setup(t)
	widget := env.product(t, "Widget", "W-1", "20", 10)
	env.sell(t, widget, 2, "")
	env.sell(t, widget, 1, "")

	data, ctype, err := env.client.ExportSales(context.Background(), client.SaleQuery{}, "xlsx")
	require.NoError(t, err)
	assert.Contains(t, ctype, "spreadsheetml")

	file, err := xlsx.OpenBinary(data)
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	sheet := file.Sheets[0]
	assert.Equal(t, "Sales", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "ID", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Payment method", sheet.Rows[0].Cells[2].String())
	assert.Equal(t, "cash", sheet.Rows[1].Cells[2].String())
}

func TestConcurrentReturnsNeverExceedTheSale(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	p := env.product(t, "Widget", "W-1", "20", 10)
	sale := env.sell(t, p, 5, "")

	const attempts = 6
	var wg sync.WaitGroup
	var accepted, conflicts atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.client.CreateReturn(ctx, domain.CreateReturnRequest{
				SaleID:        sale.ID,
				ItemsReturned: []domain.SaleLineItem{domain.NewSaleLineItem(p.ID, p.Name, 2, p.Price)},
				Action:        domain.ReturnCreditNote,
			})
			switch {
			case err == nil:
				accepted.Add(1)
			case client.StatusOf(err) == http.StatusConflict:
				conflicts.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), accepted.Load())
	assert.Equal(t, int32(attempts-2), conflicts.Load())

	prior, err := env.client.ListSaleReturns(ctx, sale.ID)
	require.NoError(t, err)
	var returned int64
	for _, r := range prior {
		for _, item := range r.ItemsReturned {
			returned += item.Quantity
		}
	}
	assert.Equal(t, int64(4), returned)
	assert.Equal(t, int64(9), env.stock(t, p.ID))
}

func TestZeroTaxRateIsHonoured(t *testing.T) {
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.True(t, New(db, "s", Options{}).taxRate.Equal(pos.DefaultTaxRate))
	zero := decimal.Zero
	assert.True(t, New(db, "s", Options{TaxRate: &zero}).taxRate.IsZero())
}
