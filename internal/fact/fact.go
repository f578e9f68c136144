// Package fact builds the order-grain and line-grain fact relations.
//
// Rows whose customer or product cannot be resolved to a dimension row are
// excluded and returned as defects. Sales aggregate exactly the lines that
// made it into fct_order_items, so line totals always add up to the order.
package fact

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/dimension"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/staging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Defect checks.
const (
	CheckUnresolvedCustomer = "unresolved_customer"
	CheckUnresolvedProduct  = "unresolved_product"
	CheckUnknownOrder       = "unknown_order"
)

// DeliveredStatus is the only status that marks an order as completed.
const DeliveredStatus = "delivered"

// Result holds both fact relations and the rows that could not be resolved.
type Result struct {
	Sales   []warehouse.FactSales
	Items   []warehouse.FactOrderItem
	Defects []warehouse.Issue
}

// Tables returns the facts as relations.
func (r *Result) Tables() []warehouse.Table {
	return []warehouse.Table{
		warehouse.NewTable(warehouse.TableFactSales, r.Sales),
		warehouse.NewTable(warehouse.TableFactOrderItems, r.Items),
	}
}

// DefectCounts returns the number of defects per check.
func (r *Result) DefectCounts() map[string]int {
	counts := make(map[string]int)
	for _, d := range r.Defects {
		counts[d.Check]++
	}
	return counts
}

type orderTotals struct {
	price   money.Sum
	freight money.Sum
	total   money.Sum
	lines   int64
}

// Build resolves staged orders and lines against the dimensions.
func Build(s *staging.Snapshot, dims *dimension.Result) *Result {
	res := &Result{}

	owner := make(map[string]string, len(s.Accounts))
	for _, a := range s.Accounts {
		owner[a.CustomerID] = a.CustomerUniqueID
	}
	customerSK := make(map[string]int64, len(dims.Customers))
	for _, c := range dims.Customers {
		customerSK[c.CustomerUniqueID] = c.CustomerSK
	}
	productSK := make(map[string]int64, len(dims.Products))
	for _, p := range dims.Products {
		productSK[p.ProductID] = p.ProductSK
	}

	orders := append([]warehouse.StagedOrder(nil), s.Orders...)
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })

	staged := make(map[string]bool, len(orders))
	resolved := make(map[string]int64, len(orders))
	for _, o := range orders {
		staged[o.OrderID] = true
		uid, ok := owner[o.CustomerID]
		var sk int64
		if ok {
			sk, ok = customerSK[uid]
		}
		if !ok {
			res.Defects = append(res.Defects, warehouse.Issue{
				Check:     CheckUnresolvedCustomer,
				Entity:    warehouse.TableStagedOrders,
				RecordKey: o.OrderID,
				Detail:    fmt.Sprintf("customer_id %s has no dimension row", o.CustomerID),
			})
			continue
		}
		resolved[o.OrderID] = sk
	}

	items := append([]warehouse.StagedOrderItem(nil), s.OrderItems...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].OrderID != items[j].OrderID {
			return items[i].OrderID < items[j].OrderID
		}
		return items[i].OrderItemID < items[j].OrderItemID
	})

	totals := make(map[string]*orderTotals)
	for _, item := range items {
		key := fmt.Sprintf("%s/%d", item.OrderID, item.OrderItemID)
		if !staged[item.OrderID] {
			res.Defects = append(res.Defects, warehouse.Issue{
				Check:     CheckUnknownOrder,
				Entity:    warehouse.TableStagedOrderItems,
				RecordKey: key,
				Detail:    fmt.Sprintf("order %s is not staged", item.OrderID),
			})
			continue
		}
		if _, ok := resolved[item.OrderID]; !ok {
			// Already reported against the order.
			continue
		}
		psk, ok := productSK[item.ProductID]
		if !ok {
			res.Defects = append(res.Defects, warehouse.Issue{
				Check:     CheckUnresolvedProduct,
				Entity:    warehouse.TableStagedOrderItems,
				RecordKey: key,
				Detail:    fmt.Sprintf("product_id %s has no dimension row", item.ProductID),
			})
			continue
		}

		res.Items = append(res.Items, warehouse.FactOrderItem{
			OrderItemSK:    int64(len(res.Items) + 1),
			OrderID:        item.OrderID,
			ProductSK:      psk,
			ItemSequence:   item.OrderItemID,
			ItemPrice:      item.Price,
			ItemFreight:    item.Freight,
			ItemTotalValue: item.ItemTotalValue,
		})

		t, ok := totals[item.OrderID]
		if !ok {
			t = &orderTotals{}
			totals[item.OrderID] = t
		}
		t.price.Add(item.Price)
		t.freight.Add(item.Freight)
		t.total.Add(item.ItemTotalValue)
		t.lines++
	}

	for _, o := range orders {
		sk, ok := resolved[o.OrderID]
		if !ok {
			continue
		}
		row := warehouse.FactSales{
			SalesSK:        int64(len(res.Sales) + 1),
			OrderID:        o.OrderID,
			CustomerSK:     sk,
			OrderDateSK:    warehouse.DateSK(o.PurchasedAt),
			OrderStatus:    o.Status,
			DaysToDelivery: DaysToDelivery(o.PurchasedAt, o.DeliveredCustomerAt),
			IsDelivered:    o.Status == DeliveredStatus,
		}
		if t, ok := totals[o.OrderID]; ok {
			row.TotalPrice = t.price.Float()
			row.TotalFreight = t.freight.Float()
			row.TotalOrderValue = t.total.Float()
			row.OrderItemCount = t.lines
		}
		res.Sales = append(res.Sales, row)
	}
	return res
}

// DaysToDelivery returns the whole days from purchase to delivery, truncated
// toward zero, or nil when the order has not been delivered. A delivery that
// precedes the purchase yields a negative value.
func DaysToDelivery(purchased time.Time, delivered *time.Time) *int64 {
	if delivered == nil || purchased.IsZero() {
		return nil
	}
	days := int64(delivered.Sub(purchased) / (24 * time.Hour))
	return &days
}

// Materialize reads staging and dimensions from the store, builds the facts
// and replaces both fact relations in one store call.
func Materialize(ctx context.Context, store warehouse.Store) (*Result, error) {
	s, err := staging.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	dims, err := dimension.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	res := Build(s, dims)
	if err := store.Replace(ctx, res.Tables()...); err != nil {
		return nil, fmt.Errorf("replace facts: %w", err)
	}
	return res, nil
}

// Load reads the committed facts back from the store.
func Load(ctx context.Context, store warehouse.Store) (*Result, error) {
	var (
		r   Result
		err error
	)
	if r.Sales, err = warehouse.Load[warehouse.FactSales](ctx, store, warehouse.TableFactSales); err != nil {
		return nil, err
	}
	if r.Items, err = warehouse.Load[warehouse.FactOrderItem](ctx, store, warehouse.TableFactOrderItems); err != nil {
		return nil, err
	}
	return &r, nil
}
