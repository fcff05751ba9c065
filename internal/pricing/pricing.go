// Package pricing реализует расчёт клиентских цен, наценок и прибыли.
//
// Цена за единицу считается с точностью 4 знака, итоговые суммы — 2 знака.
// Округление на другой стадии даёт расхождения в центах на больших объёмах,
// поэтому границы округления здесь фиксированы.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput возвращается при отрицательной цене или количестве.
var ErrInvalidInput = errors.New("invalid pricing input")

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// FinalPrice возвращает клиентскую цену за 1000 единиц: оптовая цена
// поставщика плюс наценка в процентах. Результат округлён до 4 знаков.
func FinalPrice(wholesale, markupPct decimal.Decimal) (decimal.Decimal, error) {
	if wholesale.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative wholesale price %s", ErrInvalidInput, wholesale)
	}

	factor := decimal.NewFromInt(1).Add(markupPct.Div(hundred))
	return wholesale.Mul(factor).Round(4), nil
}

// ClientTotal возвращает итоговую стоимость заказа для клиента:
// (цена за 1000 / 1000) * количество, округлённую до 2 знаков.
// Нулевое количество даёт нулевую сумму и не является ошибкой.
func ClientTotal(quantity int, finalPricePer1000 decimal.Decimal) (decimal.Decimal, error) {
	if quantity < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative quantity %d", ErrInvalidInput, quantity)
	}
	if finalPricePer1000.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price %s", ErrInvalidInput, finalPricePer1000)
	}

	return finalPricePer1000.Div(thousand).Mul(decimal.NewFromInt(int64(quantity))).Round(2), nil
}

// APICost возвращает себестоимость заказа в API поставщика. В отличие от
// клиентской суммы округляется до 4 знаков: себестоимость участвует в
// расчёте прибыли, и двухзнаковое округление здесь накапливало бы ошибку.
func APICost(quantity int, wholesalePricePer1000 decimal.Decimal) (decimal.Decimal, error) {
	if quantity < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative quantity %d", ErrInvalidInput, quantity)
	}
	if wholesalePricePer1000.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price %s", ErrInvalidInput, wholesalePricePer1000)
	}

	return wholesalePricePer1000.Div(thousand).Mul(decimal.NewFromInt(int64(quantity))).Round(4), nil
}

// Profit возвращает валовую прибыль заказа: клиентская сумма минус
// себестоимость, округлённую до 2 знаков.
func Profit(quantity int, wholesalePricePer1000, finalPricePer1000 decimal.Decimal) (decimal.Decimal, error) {
	if quantity < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative quantity %d", ErrInvalidInput, quantity)
	}
	if wholesalePricePer1000.IsNegative() || finalPricePer1000.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price", ErrInvalidInput)
	}

	qty := decimal.NewFromInt(int64(quantity))
	cost := wholesalePricePer1000.Div(thousand).Mul(qty)
	revenue := finalPricePer1000.Div(thousand).Mul(qty)

	return revenue.Sub(cost).Round(2), nil
}

// MarkupPercentage возвращает фактически применённую наценку в процентах
// по оптовой и клиентской цене. При нулевой оптовой цене возвращает ноль.
func MarkupPercentage(apiPrice, finalPrice decimal.Decimal) decimal.Decimal {
	if apiPrice.IsZero() {
		return decimal.Zero
	}

	return finalPrice.Sub(apiPrice).Div(apiPrice).Mul(hundred).Round(2)
}
