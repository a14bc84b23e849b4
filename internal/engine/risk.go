package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"daytrader/internal/domain"
)

// RiskManager enforces pre-trade limits at intake.
type RiskManager struct {
	maxQuantity decimal.Decimal
}

// NewRiskManager creates a RiskManager. A zero maxQuantity means unlimited.
func NewRiskManager(maxQuantity decimal.Decimal) *RiskManager {
	return &RiskManager{maxQuantity: maxQuantity}
}

// CheckOrder rejects orders above the quantity limit.
func (rm *RiskManager) CheckOrder(_ context.Context, req CreateOrderRequest) error {
	if rm == nil || !rm.maxQuantity.IsPositive() {
		return nil
	}
	if req.Quantity.GreaterThan(rm.maxQuantity) {
		return fmt.Errorf("%w: quantity %s exceeds limit %s", domain.ErrValidation, req.Quantity, rm.maxQuantity)
	}
	return nil
}
