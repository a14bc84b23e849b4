package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of minor-unit digits for account currency.
const CurrencyPlaces = 2

// DefaultOrderFee is the fee charged when an order does not carry one.
var DefaultOrderFee = decimal.RequireFromString("9.95")

// RoundCurrency rounds d half-up (away from zero) to the currency minor unit.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// Settlement returns the unsigned cash amount an order moves at price:
// quantity*price + fee for a buy, quantity*price - fee for a sell.
func Settlement(t OrderType, quantity, price, fee decimal.Decimal) (decimal.Decimal, error) {
	gross := quantity.Mul(price)
	switch t {
	case OrderTypeBuy:
		return RoundCurrency(gross.Add(fee)), nil
	case OrderTypeSell:
		return RoundCurrency(gross.Sub(fee)), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown order type %q", ErrValidation, t)
}

// LedgerDelta returns the signed balance adjustment for a settlement amount:
// negative (debit) for buys, positive (credit) for sells.
func LedgerDelta(t OrderType, amount decimal.Decimal) decimal.Decimal {
	if t == OrderTypeBuy {
		return amount.Neg()
	}
	return amount
}
