// Package dimension builds the customer, product and calendar dimensions
// from staged data.
//
// Surrogate keys are the 1-based position of a row after sorting by its
// natural key, so unchanged inputs always receive the same keys.
package dimension

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/staging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Options are the inputs the dimensions depend on besides staged data.
type Options struct {
	ReferenceDate           time.Time
	QualifyingStatuses      warehouse.StatusSet
	InactivityThresholdDays int
}

// Result holds the three dimensions.
type Result struct {
	Customers []warehouse.DimCustomer
	Products  []warehouse.DimProduct
	Calendar  []warehouse.DimDate
}

// Tables returns the dimensions as relations.
func (r *Result) Tables() []warehouse.Table {
	return []warehouse.Table{
		warehouse.NewTable(warehouse.TableDimCustomers, r.Customers),
		warehouse.NewTable(warehouse.TableDimProducts, r.Products),
		warehouse.NewTable(warehouse.TableDimDate, r.Calendar),
	}
}

// Build computes every dimension.
func Build(s *staging.Snapshot, opts Options) *Result {
	return &Result{
		Customers: Customers(s, opts),
		Products:  Products(s.Products, s.Translations),
		Calendar:  Calendar(s.Orders),
	}
}

// Materialize builds the dimensions and replaces them in one store call.
func Materialize(ctx context.Context, store warehouse.Store, s *staging.Snapshot, opts Options) (*Result, error) {
	res := Build(s, opts)
	if err := store.Replace(ctx, res.Tables()...); err != nil {
		return nil, fmt.Errorf("replace dimensions: %w", err)
	}
	return res, nil
}

type customerRollup struct {
	orders int64
	first  time.Time
	last   time.Time
	spent  money.Sum
}

// Customers rolls up qualifying orders per customer. Orders are attributed
// through the account mapping, so every customer_id of a customer counts.
func Customers(s *staging.Snapshot, opts Options) []warehouse.DimCustomer {
	owner := make(map[string]string, len(s.Accounts))
	for _, a := range s.Accounts {
		owner[a.CustomerID] = a.CustomerUniqueID
	}

	orderTotal := make(map[string]*money.Sum)
	for _, item := range s.OrderItems {
		sum, ok := orderTotal[item.OrderID]
		if !ok {
			sum = &money.Sum{}
			orderTotal[item.OrderID] = sum
		}
		sum.Add(item.ItemTotalValue)
	}

	rollups := make(map[string]*customerRollup)
	for _, o := range s.Orders {
		if !opts.QualifyingStatuses[o.Status] {
			continue
		}
		uid, ok := owner[o.CustomerID]
		if !ok {
			continue
		}
		day := warehouse.Day(o.PurchasedAt)
		r, ok := rollups[uid]
		if !ok {
			r = &customerRollup{first: day, last: day}
			rollups[uid] = r
		}
		r.orders++
		if day.Before(r.first) {
			r.first = day
		}
		if day.After(r.last) {
			r.last = day
		}
		if total, ok := orderTotal[o.OrderID]; ok {
			r.spent.Add(total.Float())
		}
	}

	staged := append([]warehouse.StagedCustomer(nil), s.Customers...)
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].CustomerUniqueID < staged[j].CustomerUniqueID
	})

	ref := warehouse.Day(opts.ReferenceDate)
	out := make([]warehouse.DimCustomer, len(staged))
	for i, c := range staged {
		row := warehouse.DimCustomer{
			CustomerSK:       int64(i + 1),
			CustomerUniqueID: c.CustomerUniqueID,
			CustomerID:       c.CustomerID,
			City:             c.City,
			State:            c.State,
			ZipCodePrefix:    c.ZipCodePrefix,
		}
		if r, ok := rollups[c.CustomerUniqueID]; ok {
			first, last := r.first, r.last
			row.FirstOrderDate = &first
			row.LastOrderDate = &last
			row.TotalOrders = r.orders
			row.TotalSpent = r.spent.Float()
			row.IsActive = warehouse.DaysBetween(last, ref) <= int64(opts.InactivityThresholdDays)
		}
		out[i] = row
	}
	return out
}

// Products joins each product to its English category label. Products whose
// category has no translation keep the local label and a null translation.
func Products(products []warehouse.StagedProduct, translations []warehouse.CategoryTranslation) []warehouse.DimProduct {
	english := make(map[string]string, len(translations))
	for _, t := range translations {
		english[t.CategoryName] = t.CategoryNameEnglish
	}

	staged := append([]warehouse.StagedProduct(nil), products...)
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].ProductID < staged[j].ProductID
	})

	out := make([]warehouse.DimProduct, len(staged))
	for i, p := range staged {
		row := warehouse.DimProduct{
			ProductSK:         int64(i + 1),
			ProductID:         p.ProductID,
			CategoryName:      p.CategoryName,
			NameLength:        p.NameLength,
			DescriptionLength: p.DescriptionLength,
			PhotosQty:         p.PhotosQty,
			WeightG:           p.WeightG,
			VolumeCM3:         p.VolumeCM3,
		}
		if label, ok := english[p.CategoryName]; ok {
			row.CategoryNameEnglish = &label
		}
		out[i] = row
	}
	return out
}

// Calendar returns one row per day from the earliest to the latest purchase
// date, with no gaps. It is empty when there are no orders.
func Calendar(orders []warehouse.StagedOrder) []warehouse.DimDate {
	if len(orders) == 0 {
		return nil
	}
	first := warehouse.Day(orders[0].PurchasedAt)
	last := first
	for _, o := range orders[1:] {
		d := warehouse.Day(o.PurchasedAt)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}

	var out []warehouse.DimDate
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, CalendarDay(d))
	}
	return out
}

// CalendarDay describes one day.
func CalendarDay(d time.Time) warehouse.DimDate {
	d = warehouse.Day(d)
	wd := int(d.Weekday())
	return warehouse.DimDate{
		DateSK:     warehouse.DateSK(d),
		Date:       d,
		Year:       int32(d.Year()),
		Quarter:    int32((int(d.Month())-1)/3 + 1),
		Month:      int32(d.Month()),
		Day:        int32(d.Day()),
		DayOfWeek:  int32(wd),
		WeekOfYear: int32(mondayWeek(d)),
		IsWeekend:  wd == int(time.Saturday) || wd == int(time.Sunday),
	}
}

// mondayWeek numbers weeks starting on Monday; days before the year's first
// Monday are week 0.
func mondayWeek(d time.Time) int {
	yday := d.YearDay() - 1
	sinceMonday := (int(d.Weekday()) + 6) % 7
	return (yday + 7 - sinceMonday) / 7
}

// Load reads the committed dimensions back from the store.
func Load(ctx context.Context, store warehouse.Store) (*Result, error) {
	var (
		r   Result
		err error
	)
	if r.Customers, err = warehouse.Load[warehouse.DimCustomer](ctx, store, warehouse.TableDimCustomers); err != nil {
		return nil, err
	}
	if r.Products, err = warehouse.Load[warehouse.DimProduct](ctx, store, warehouse.TableDimProducts); err != nil {
		return nil, err
	}
	if r.Calendar, err = warehouse.Load[warehouse.DimDate](ctx, store, warehouse.TableDimDate); err != nil {
		return nil, err
	}
	return &r, nil
}
