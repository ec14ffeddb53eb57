package systest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savi/m/domain"
	"savi/m/internal/client"
)

type fakeAPI struct {
	token      string
	healthErr  error
	productErr error
	salesErr   error
	products   []domain.Product
}

func (f *fakeAPI) Health(ctx context.Context) error { return f.healthErr }
func (f *fakeAPI) Token() string { return f.token }

func (f *fakeAPI) ListProducts(ctx context.Context, q client.ProductQuery) (*domain.Page[domain.Product], error) {
	if f.productErr != nil {
		return nil, f.productErr
	}
	return &domain.Page[domain.Product]{Items: f.products, Total: int64(len(f.products))}, nil
}

func (f *fakeAPI) ListSales(ctx context.Context, q client.SaleQuery) (*domain.Page[domain.Sale], error) {
	if f.salesErr != nil {
		return nil, f.salesErr
	}
	return &domain.Page[domain.Sale]{Items: []domain.Sale{}, Total: 12}, nil
}

func (f *fakeAPI) ListAlerts(ctx context.Context, q client.AlertQuery) ([]domain.InventoryAlert, error) {
	return []domain.InventoryAlert{{ID: 1}}, nil
}

func TestRunAllChecksPass(t *testing.T) {
	api := &fakeAPI{token: "tok", products: []domain.Product{{ID: 1, HasPromotion: true}, {ID: 2}}}
	results := NewRunner(api, nil).WithPause(0).Run(context.Background())

	require.Len(t, results, len(DefaultChecks()))
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status, r.ID)
	}
	assert.Equal(t, "1 products on promotion", results[len(results)-1].Message)
	assert.True(t, Summarize(results).OK())
}

func TestFailingCheckDoesNotStopTheRest(t *testing.T) {
	api := &fakeAPI{products: []domain.Product{}}
	results := NewRunner(api, nil).WithPause(0).Run(context.Background())

	require.Len(t, results, len(DefaultChecks()))
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.Equal(t, StatusError, byID["authentication"].Status)
	assert.Contains(t, byID["authentication"].Details, "no active session")
	assert.Equal(t, StatusSuccess, byID["sales_system"].Status)

	s := Summarize(results)
	assert.Equal(t, 1, s.Failed)
	assert.False(t, s.OK())
}

func TestAPIHealthPartial(t *testing.T) {
	msg, details, err := apiHealth(context.Background(), &fakeAPI{salesErr: errors.New("500")})
	require.NoError(t, err)
	assert.Equal(t, "1/2 endpoints answer", msg)
	assert.Equal(t, "Failed: Sales", details)

	_, _, err = apiHealth(context.Background(), &fakeAPI{salesErr: errors.New("500"), productErr: errors.New("500")})
	assert.Error(t, err)
}

func TestRunOne(t *testing.T) {
	r := NewRunner(&fakeAPI{}, nil)
	assert.Equal(t, StatusSuccess, r.RunOne(context.Background(), "sales_system").Status)

	res := r.RunOne(context.Background(), "nope")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "check not implemented", res.Message)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := NewRunner(&fakeAPI{}, nil).WithPause(time.Hour).Run(ctx)
	assert.Len(t, results, 1)
}

func TestCheckEnvironment(t *testing.T) {
	vars := CheckEnvironment(context.Background(), &fakeAPI{productErr: errors.New("down")}, "")
	require.Len(t, vars, 2)
	assert.Equal(t, "missing", vars[0].Status)
	assert.Equal(t, "Not connected", vars[1].Value)
}
