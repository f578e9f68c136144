package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Risk weights.
var (
	weightRecency   = decimal.RequireFromString("0.4")
	weightFrequency = decimal.RequireFromString("0.3")
	weightValue     = decimal.RequireFromString("0.2")
	weightInactive  = decimal.RequireFromString("0.1")
	daysPerYear     = decimal.NewFromInt(365)
)

// RiskScore is the weighted churn score rounded to two places. The recency
// term grows without bound, so customers gone for more than a year score
// above 1. Negative recency contributes nothing.
func RiskScore(in RiskInput) float64 {
	score := decimal.Zero
	if in.Days != nil && *in.Days > 0 {
		score = score.Add(weightRecency.Mul(decimal.NewFromInt(*in.Days)).Div(daysPerYear))
	}
	if in.Orders < 3 {
		score = score.Add(weightFrequency)
	}
	if in.Spent < 100 {
		score = score.Add(weightValue)
	}
	if !in.Active {
		score = score.Add(weightInactive)
	}
	return money.Float(score)
}

// Risk scores every dimension customer. Rows follow dimension order.
func Risk(customers []warehouse.DimCustomer, opts Options) []warehouse.CustomerRisk {
	ref := warehouse.Day(opts.ReferenceDate)
	out := make([]warehouse.CustomerRisk, 0, len(customers))
	for _, c := range customers {
		in := RiskInput{
			Orders: c.TotalOrders,
			Spent:  c.TotalSpent,
			Active: c.IsActive,
		}
		if c.LastOrderDate != nil {
			days := warehouse.ElapsedDays(*c.LastOrderDate, ref)
			in.Days = &days
		}

		row := warehouse.CustomerRisk{
			CustomerSK:            c.CustomerSK,
			CustomerUniqueID:      c.CustomerUniqueID,
			LastPurchaseDate:      c.LastOrderDate,
			DaysSinceLastPurchase: in.Days,
			PurchaseFrequency:     c.TotalOrders,
			AverageOrderValue:     money.Ratio(money.Of(c.TotalSpent), c.TotalOrders),
			LifetimeValue:         c.TotalSpent,
			RiskScore:             RiskScore(in),
			RiskCategory:          RiskCategory(in),
			RiskReason:            RiskReason(in),
		}
		if Alert(in) {
			row.AlertFlag = 1
		}
		out = append(out, row)
	}
	return out
}
