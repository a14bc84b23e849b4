package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a holding of a symbol created by a completed buy order. It is
// never modified after creation.
type Position struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"accountId"`
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	CostBasisPrice decimal.Decimal `json:"purchasePrice"`
	AcquiredAt     time.Time       `json:"purchaseDate"`
	OrderID        int64           `json:"orderId"`
}

// CostBasis returns quantity * costBasisPrice.
func (p *Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.CostBasisPrice)
}

// Quote is the latest market state for a symbol.
type Quote struct {
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"companyName,omitempty"`
	Price       decimal.Decimal `json:"price"`
	OpenPrice   decimal.Decimal `json:"openPrice"`
	LowPrice    decimal.Decimal `json:"lowPrice"`
	HighPrice   decimal.Decimal `json:"highPrice"`
	Volume      float64         `json:"volume"`
	PriceChange decimal.Decimal `json:"priceChange"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ChangePercent returns the percent move from open, half-up to 2dp. A zero
// open yields zero.
func (q *Quote) ChangePercent() decimal.Decimal {
	if q.OpenPrice.IsZero() {
		return decimal.Zero
	}
	return q.Price.Sub(q.OpenPrice).Div(q.OpenPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// Account is the ledger's view of an account's cash.
type Account struct {
	ID      int64           `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Version int64           `json:"version"`
}

// SagaStep names a step of the order workflow for journaling.
type SagaStep string

const (
	StepClaim      SagaStep = "claim"
	StepPrice      SagaStep = "price"
	StepLedger     SagaStep = "ledger"
	StepPosition   SagaStep = "position"
	StepComplete   SagaStep = "complete"
	StepPublish    SagaStep = "publish"
	StepCompensate SagaStep = "compensate"
	StepCancel     SagaStep = "cancel"
	StepDecode     SagaStep = "decode"
	StepSweep      SagaStep = "sweep"
)

// SagaOutcome is the result of a journaled step.
type SagaOutcome string

const (
	OutcomeCompleted SagaOutcome = "completed"
	OutcomeCancelled SagaOutcome = "cancelled"
	OutcomeSkipped   SagaOutcome = "skipped"
	OutcomeFailed    SagaOutcome = "failed"
	OutcomeApplied   SagaOutcome = "applied"
)

// SagaRecord is one diagnostic entry in the saga journal.
type SagaRecord struct {
	OrderID   int64
	AccountID int64
	Symbol    string
	Step      SagaStep
	Outcome   SagaOutcome
	Amount    string
	Detail    string
	Time      time.Time
}
