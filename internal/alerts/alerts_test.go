package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savi/m/domain"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func snap(id, stock int64, lastSale *time.Time) Snapshot {
	return Snapshot{
		Product:      domain.Product{ID: id, Name: "P", Stock: stock, CreatedAt: now.AddDate(0, -6, 0)},
		LastMovement: lastSale,
	}
}

func TestEvaluateStockLevels(t *testing.T) {
	recent := now.AddDate(0, 0, -1)
	cases := []struct {
		stock    int64
		want     string
		severity string
	}{
		{0, domain.AlertOutOfStock, domain.SeverityCritical},
		{5, domain.AlertCriticalStock, domain.SeverityHigh},
		{10, domain.AlertLowStock, domain.SeverityMedium},
		{11, "", ""},
	}
	for _, tc := range cases {
		got := Evaluate([]Snapshot{snap(1, tc.stock, &recent)}, DefaultThresholds, now)
		if tc.want == "" {
			assert.Empty(t, got, "stock %d", tc.stock)
			continue
		}
		require.Len(t, got, 1, "stock %d", tc.stock)
		assert.Equal(t, tc.want, got[0].AlertType)
		assert.Equal(t, tc.severity, got[0].Severity)
		assert.Equal(t, tc.stock, *got[0].CurrentStock)
	}
}

func TestEvaluateNoMovement(t *testing.T) {
	old := now.AddDate(0, 0, -45)
	got := Evaluate([]Snapshot{snap(1, 50, &old)}, DefaultThresholds, now)
	require.Len(t, got, 1)
	assert.Equal(t, domain.AlertNoMovement, got[0].AlertType)
	assert.Equal(t, int64(45), *got[0].DaysWithoutMovement)

	got = Evaluate([]Snapshot{snap(2, 50, nil)}, DefaultThresholds, now)
	require.Len(t, got, 1, "never sold counts from creation")
	assert.Equal(t, domain.AlertNoMovement, got[0].AlertType)

	got = Evaluate([]Snapshot{snap(3, 0, &old)}, DefaultThresholds, now)
	require.Len(t, got, 1, "an empty shelf only gets the stock alert")
	assert.Equal(t, domain.AlertOutOfStock, got[0].AlertType)
}

func TestNormalizeAndValidate(t *testing.T) {
	th := Normalize(domain.AlertThresholds{LowStock: 20})
	assert.Equal(t, int64(20), th.LowStock)
	assert.Equal(t, int64(5), th.CriticalStock)
	assert.Equal(t, int64(30), th.NoMovementDays)

	assert.NoError(t, Validate(th))
	assert.Error(t, Validate(domain.AlertThresholds{LowStock: 3, CriticalStock: 5}))
}
