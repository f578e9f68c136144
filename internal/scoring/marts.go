package scoring

import (
	"fmt"
	"sort"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

func yearMonths(calendar []warehouse.DimDate) map[int32]string {
	months := make(map[int32]string, len(calendar))
	for _, d := range calendar {
		months[d.DateSK] = d.YearMonth()
	}
	return months
}

func monthOf(months map[int32]string, sale warehouse.FactSales) (string, error) {
	ym, ok := months[sale.OrderDateSK]
	if !ok {
		return "", fmt.Errorf("sale %s: date_sk %d not in %s", sale.OrderID, sale.OrderDateSK, warehouse.TableDimDate)
	}
	return ym, nil
}

type revenueAcc struct {
	revenue money.Sum
	freight money.Sum
	orders  int64
	items   int64
	buyers  map[int64]bool
}

// MonthlyRevenue totals delivered sales per month.
func MonthlyRevenue(in *Inputs) ([]warehouse.MonthlyRevenue, error) {
	months := yearMonths(in.Calendar)
	acc := make(map[string]*revenueAcc)
	for _, s := range in.Sales {
		if !s.IsDelivered {
			continue
		}
		ym, err := monthOf(months, s)
		if err != nil {
			return nil, err
		}
		a, ok := acc[ym]
		if !ok {
			a = &revenueAcc{}
			acc[ym] = a
		}
		a.revenue.Add(s.TotalOrderValue)
		a.orders++
	}

	out := make([]warehouse.MonthlyRevenue, 0, len(acc))
	for ym, a := range acc {
		row := warehouse.MonthlyRevenue{
			YearMonth:    ym,
			TotalRevenue: a.revenue.Float(),
			OrderCount:   a.orders,
		}
		if aov := money.Ratio(a.revenue.Decimal(), a.orders); aov != nil {
			row.AverageOrderValue = *aov
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].YearMonth < out[j].YearMonth })
	return out, nil
}

// MonthlySales totals qualifying sales per month with distinct buyers and
// line counts.
func MonthlySales(in *Inputs, opts Options) ([]warehouse.MonthlySales, error) {
	months := yearMonths(in.Calendar)
	acc := make(map[string]*revenueAcc)
	for _, s := range in.Sales {
		if !opts.QualifyingStatuses[s.OrderStatus] {
			continue
		}
		ym, err := monthOf(months, s)
		if err != nil {
			return nil, err
		}
		a, ok := acc[ym]
		if !ok {
			a = &revenueAcc{buyers: make(map[int64]bool)}
			acc[ym] = a
		}
		a.revenue.Add(s.TotalOrderValue)
		a.freight.Add(s.TotalFreight)
		a.orders++
		a.items += s.OrderItemCount
		a.buyers[s.CustomerSK] = true
	}

	out := make([]warehouse.MonthlySales, 0, len(acc))
	for ym, a := range acc {
		out = append(out, warehouse.MonthlySales{
			YearMonth:     ym,
			OrderCount:    a.orders,
			CustomerCount: int64(len(a.buyers)),
			TotalRevenue:  a.revenue.Float(),
			TotalFreight:  a.freight.Float(),
			ItemCount:     a.items,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].YearMonth < out[j].YearMonth })
	return out, nil
}

type productAcc struct {
	revenue money.Sum
	price   money.Sum
	units   int64
	orders  map[string]bool
}

func (a *productAcc) add(item warehouse.FactOrderItem) {
	a.revenue.Add(item.ItemTotalValue)
	a.price.Add(item.ItemPrice)
	a.units++
	if a.orders != nil {
		a.orders[item.OrderID] = true
	}
}

func (a *productAcc) averagePrice() float64 {
	if avg := money.Ratio(a.price.Decimal(), a.units); avg != nil {
		return *avg
	}
	return 0
}

func productIndex(products []warehouse.DimProduct) map[int64]warehouse.DimProduct {
	idx := make(map[int64]warehouse.DimProduct, len(products))
	for _, p := range products {
		idx[p.ProductSK] = p
	}
	return idx
}

// ProductPerformance totals sold lines per category, using the English label
// when one exists.
func ProductPerformance(in *Inputs) ([]warehouse.ProductPerformance, error) {
	products := productIndex(in.Products)
	acc := make(map[string]*productAcc)
	for _, item := range in.Items {
		p, ok := products[item.ProductSK]
		if !ok {
			return nil, fmt.Errorf("line %s/%d: product_sk %d not in %s", item.OrderID, item.ItemSequence, item.ProductSK, warehouse.TableDimProducts)
		}
		a, ok := acc[p.Category()]
		if !ok {
			a = &productAcc{}
			acc[p.Category()] = a
		}
		a.add(item)
	}

	out := make([]warehouse.ProductPerformance, 0, len(acc))
	for category, a := range acc {
		out = append(out, warehouse.ProductPerformance{
			Category:     category,
			TotalRevenue: a.revenue.Float(),
			UnitsSold:    a.units,
			AveragePrice: a.averagePrice(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// ProductSales totals sold lines per product.
func ProductSales(in *Inputs) ([]warehouse.ProductSales, error) {
	products := productIndex(in.Products)
	acc := make(map[int64]*productAcc)
	for _, item := range in.Items {
		if _, ok := products[item.ProductSK]; !ok {
			return nil, fmt.Errorf("line %s/%d: product_sk %d not in %s", item.OrderID, item.ItemSequence, item.ProductSK, warehouse.TableDimProducts)
		}
		a, ok := acc[item.ProductSK]
		if !ok {
			a = &productAcc{orders: make(map[string]bool)}
			acc[item.ProductSK] = a
		}
		a.add(item)
	}

	out := make([]warehouse.ProductSales, 0, len(acc))
	for sk, a := range acc {
		p := products[sk]
		out = append(out, warehouse.ProductSales{
			ProductSK:    sk,
			ProductID:    p.ProductID,
			Category:     p.Category(),
			UnitsSold:    a.units,
			OrderCount:   int64(len(a.orders)),
			TotalRevenue: a.revenue.Float(),
			AveragePrice: a.averagePrice(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductSK < out[j].ProductSK })
	return out, nil
}
