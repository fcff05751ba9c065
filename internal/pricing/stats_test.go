package pricing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

func TestProfitStats(t *testing.T) {
	apiPrice := decimal.RequireFromString("10.00")
	svcWithAPI := model.Service{
		ID:           uuid.New(),
		PricePer1000: decimal.RequireFromString("12.00"),
		APIPrice:     &apiPrice,
	}
	svcWithoutAPI := model.Service{
		ID:           uuid.New(),
		PricePer1000: decimal.RequireFromString("2.00"),
	}
	services := []model.Service{svcWithAPI, svcWithoutAPI}

	orders := []model.Order{
		// 2500 единиц: выручка 30.00, себестоимость 10.00/1000*2500 = 25.00.
		{ServiceID: svcWithAPI.ID, Quantity: 2500, Price: decimal.RequireFromString("30.00")},
		// Без api_price себестоимость считается по price_per_1000: 2.00.
		{ServiceID: svcWithoutAPI.ID, Quantity: 1000, Price: decimal.RequireFromString("2.40")},
		// Заказ услуги, которой нет в списке, в сводку не входит.
		{ServiceID: uuid.New(), Quantity: 100, Price: decimal.RequireFromString("99.00")},
	}

	stats := ProfitStats(orders, services)

	if stats.Revenue.String() != "32.4" {
		t.Fatalf("Revenue = %s, want 32.4", stats.Revenue)
	}
	if stats.Cost.String() != "27" {
		t.Fatalf("Cost = %s, want 27", stats.Cost)
	}
	if stats.Profit.String() != "5.4" {
		t.Fatalf("Profit = %s, want 5.4", stats.Profit)
	}
	// 5.40 / 32.40 * 100 = 16.666... -> 16.67
	if stats.Margin.String() != "16.67" {
		t.Fatalf("Margin = %s, want 16.67", stats.Margin)
	}
}

func TestProfitStats_ZeroRevenue(t *testing.T) {
	stats := ProfitStats(nil, nil)

	if !stats.Revenue.IsZero() || !stats.Cost.IsZero() || !stats.Profit.IsZero() {
		t.Fatalf("empty input must give zero totals: %+v", stats)
	}
	if !stats.Margin.IsZero() {
		t.Fatalf("Margin = %s, want 0 when revenue is zero", stats.Margin)
	}
}
