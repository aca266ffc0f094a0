package ledger

import (
	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/pricefmt"
	"github.com/shopspring/decimal"
)

// WeightedAverage returns the cost basis after buying qty at price on top of
// oldQty held at oldAvg, rounded to the price tier.
func WeightedAverage(oldAvg float64, oldQty int64, price float64, qty int64) float64 {
	total := oldQty + qty
	if total <= 0 {
		return 0
	}
	cost := decimal.NewFromFloat(oldAvg).Mul(decimal.NewFromInt(oldQty)).
		Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)))
	avg, _ := cost.Div(decimal.NewFromInt(total)).Float64()
	return pricefmt.Round(avg)
}

// Realized returns the profit of selling qty at price against avg.
func Realized(price, avg float64, qty int64) float64 {
	pnl, _ := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(avg)).
		Mul(decimal.NewFromInt(qty)).Float64()
	return pnl
}

// Unrealized returns the mark-to-market profit of qty held at avg.
func Unrealized(price, avg float64, qty int64) float64 {
	return pricefmt.Round(Realized(price, avg, qty))
}

// Trigger reports whether price crosses a threshold of pos. Stop-loss is
// checked first.
func Trigger(pos domain.Position, price float64) (domain.CloseReason, bool) {
	if pos.StopLoss != nil && price <= *pos.StopLoss {
		return domain.CloseReasonStopLoss, true
	}
	if pos.TakeProfit != nil && price >= *pos.TakeProfit {
		return domain.CloseReasonTakeProfit, true
	}
	return domain.CloseReasonNone, false
}
