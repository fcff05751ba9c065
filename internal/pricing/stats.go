package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// Stats содержит сводку по заказам: выручка, себестоимость, прибыль и маржа.
type Stats struct {
	Revenue decimal.Decimal
	Cost    decimal.Decimal
	Profit  decimal.Decimal
	// Margin — прибыль в процентах от выручки; ноль при нулевой выручке.
	Margin decimal.Decimal
}

// ProfitStats считает сводку прибыли по заказам. Выручкой считается
// списанная с клиента сумма, себестоимостью — стоимость заказа по оптовой
// цене услуги (api_price, при её отсутствии — price_per_1000). Заказы,
// услуга которых не найдена в списке, пропускаются. Итоги округлены
// до 2 знаков.
func ProfitStats(orders []model.Order, services []model.Service) Stats {
	byID := make(map[uuid.UUID]model.Service, len(services))
	for _, s := range services {
		byID[s.ID] = s
	}

	var revenue, cost decimal.Decimal
	for _, o := range orders {
		svc, ok := byID[o.ServiceID]
		if !ok {
			continue
		}

		wholesale := svc.PricePer1000
		if svc.APIPrice != nil {
			wholesale = *svc.APIPrice
		}

		apiCost, err := APICost(o.Quantity, wholesale)
		if err != nil {
			continue
		}

		revenue = revenue.Add(o.Price)
		cost = cost.Add(apiCost)
	}

	profit := revenue.Sub(cost)

	margin := decimal.Zero
	if revenue.IsPositive() {
		margin = profit.Div(revenue).Mul(hundred).Round(2)
	}

	return Stats{
		Revenue: revenue.Round(2),
		Cost:    cost.Round(2),
		Profit:  profit.Round(2),
		Margin:  margin,
	}
}
