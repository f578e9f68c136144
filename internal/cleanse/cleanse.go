// Package cleanse normalizes and validates raw extracts into staging rows.
//
// Each entity is cleansed independently: header names are standardized,
// cells are trimmed and coerced, rows that fail coercion or validation are
// rejected and reported, and the entity's grain is enforced by keeping the
// first occurrence of every natural key.
package cleanse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Result holds the cleansed rows of every entity.
type Result struct {
	Orders       []warehouse.StagedOrder
	Customers    []warehouse.StagedCustomer
	Accounts     []warehouse.CustomerAccount
	OrderItems   []warehouse.StagedOrderItem
	Products     []warehouse.StagedProduct
	Translations []warehouse.CategoryTranslation
	Report       Report
}

// Cleanse cleanses every entity of the snapshot. Entities run in parallel;
// each goroutine writes only its own slot. A missing required column in any
// extract fails the whole pass.
func Cleanse(ctx context.Context, snap *source.Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}
	reports := make([]*EntityReport, len(source.Entities))
	verrs := make([][]ValidationError, len(source.Entities))
	errs := make([]error, len(source.Entities))

	var wg sync.WaitGroup
	for i, e := range source.Entities {
		wg.Add(1)
		go func(i int, e source.Entity) {
			defer wg.Done()
			t := snap.Table(e)
			var rep EntityReport
			switch e {
			case source.EntityOrders:
				res.Orders, rep, verrs[i], errs[i] = Orders(t)
			case source.EntityCustomers:
				res.Customers, res.Accounts, rep, verrs[i], errs[i] = Customers(t)
			case source.EntityOrderItems:
				res.OrderItems, rep, verrs[i], errs[i] = OrderItems(t)
			case source.EntityProducts:
				res.Products, rep, verrs[i], errs[i] = Products(t)
			case source.EntityCategoryTranslation:
				res.Translations, rep, verrs[i], errs[i] = Translations(t)
			}
			reports[i] = &rep
		}(i, e)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	res.Report.Entities = make(map[source.Entity]*EntityReport, len(reports))
	for i, e := range source.Entities {
		res.Report.Entities[e] = reports[i]
		res.Report.Errors = append(res.Report.Errors, verrs[i]...)
	}
	return res, nil
}

// Orders cleanses the orders extract. Grain: order_id.
func Orders(t *source.RawTable) ([]warehouse.StagedOrder, EntityReport, []ValidationError, error) {
	rep := EntityReport{Entity: t.Entity, Read: len(t.Rows)}
	cols, err := standardize(t, []string{"order_id", "customer_id", "order_status", "order_purchase_timestamp"})
	if err != nil {
		return nil, rep, nil, err
	}

	var out []warehouse.StagedOrder
	var verrs []ValidationError
	seen := make(map[string]bool, len(t.Rows))

	for i, cells := range t.Rows {
		r := &rowReader{entity: t.Entity, cols: cols, cells: cells, line: i + 2}
		r.key = r.str("order_id")

		row := warehouse.StagedOrder{
			OrderID:             r.key,
			CustomerID:          r.str("customer_id"),
			Status:              warehouse.NormalizeStatus(r.str("order_status")),
			PurchasedAt:         r.requiredTimestamp("order_purchase_timestamp"),
			ApprovedAt:          r.optionalTimestamp("order_approved_at"),
			DeliveredCarrierAt:  r.optionalTimestamp("order_delivered_carrier_date"),
			DeliveredCustomerAt: r.optionalTimestamp("order_delivered_customer_date"),
			EstimatedDeliveryAt: r.optionalTimestamp("order_estimated_delivery_date"),
		}
		r.check(row)

		if r.err != nil {
			rep.Rejected++
			verrs = append(verrs, *r.err)
			continue
		}
		if seen[row.OrderID] {
			rep.Duplicates++
			continue
		}
		seen[row.OrderID] = true
		out = append(out, row)
	}

	rep.Accepted = len(out)
	return out, rep, verrs, nil
}

// Customers cleanses the customers extract. The customer grain is
// customer_unique_id; every distinct customer_id is kept as an account so
// orders placed under any of a customer's ids still resolve.
func Customers(t *source.RawTable) ([]warehouse.StagedCustomer, []warehouse.CustomerAccount, EntityReport, []ValidationError, error) {
	rep := EntityReport{Entity: t.Entity, Read: len(t.Rows)}
	cols, err := standardize(t, []string{"customer_id", "customer_unique_id"})
	if err != nil {
		return nil, nil, rep, nil, err
	}

	var customers []warehouse.StagedCustomer
	var accounts []warehouse.CustomerAccount
	var verrs []ValidationError
	seenCustomer := make(map[string]bool, len(t.Rows))
	seenAccount := make(map[string]bool, len(t.Rows))

	for i, cells := range t.Rows {
		r := &rowReader{entity: t.Entity, cols: cols, cells: cells, line: i + 2}
		r.key = r.str("customer_unique_id")

		row := warehouse.StagedCustomer{
			CustomerUniqueID: r.key,
			CustomerID:       r.str("customer_id"),
			ZipCodePrefix:    r.str("customer_zip_code_prefix"),
			City:             r.str("customer_city"),
			State:            strings.ToUpper(r.str("customer_state")),
		}
		r.check(row)

		if r.err != nil {
			rep.Rejected++
			verrs = append(verrs, *r.err)
			continue
		}

		if !seenAccount[row.CustomerID] {
			seenAccount[row.CustomerID] = true
			accounts = append(accounts, warehouse.CustomerAccount{
				CustomerID:       row.CustomerID,
				CustomerUniqueID: row.CustomerUniqueID,
			})
		}

		if seenCustomer[row.CustomerUniqueID] {
			rep.Duplicates++
			continue
		}
		seenCustomer[row.CustomerUniqueID] = true
		customers = append(customers, row)
	}

	rep.Accepted = len(customers)
	return customers, accounts, rep, verrs, nil
}

// OrderItems cleanses the order lines extract. Grain: (order_id, order_item_id).
// Prices must be positive and freight non-negative.
func OrderItems(t *source.RawTable) ([]warehouse.StagedOrderItem, EntityReport, []ValidationError, error) {
	rep := EntityReport{Entity: t.Entity, Read: len(t.Rows)}
	cols, err := standardize(t, []string{"order_id", "order_item_id", "product_id", "price", "freight_value"})
	if err != nil {
		return nil, rep, nil, err
	}

	type lineKey struct {
		order string
		item  int64
	}

	var out []warehouse.StagedOrderItem
	var verrs []ValidationError
	seen := make(map[lineKey]bool, len(t.Rows))

	for i, cells := range t.Rows {
		r := &rowReader{entity: t.Entity, cols: cols, cells: cells, line: i + 2}
		orderID := r.str("order_id")
		itemID := r.str("order_item_id")
		r.key = orderID + "/" + itemID

		price := r.amount("price").Round(money.Places)
		freight := r.amount("freight_value").Round(money.Places)
		row := warehouse.StagedOrderItem{
			OrderID:         orderID,
			OrderItemID:     r.integer("order_item_id"),
			ProductID:       r.str("product_id"),
			SellerID:        r.str("seller_id"),
			ShippingLimitAt: r.optionalTimestamp("shipping_limit_date"),
			Price:           money.Float(price),
			Freight:         money.Float(freight),
			ItemTotalValue:  money.Float(price.Add(freight)),
		}
		r.check(row)

		if r.err != nil {
			rep.Rejected++
			verrs = append(verrs, *r.err)
			continue
		}
		k := lineKey{row.OrderID, row.OrderItemID}
		if seen[k] {
			rep.Duplicates++
			continue
		}
		seen[k] = true
		out = append(out, row)
	}

	rep.Accepted = len(out)
	return out, rep, verrs, nil
}

// Products cleanses the products extract. Grain: product_id. Products
// without a category are rejected; missing measurements become zero.
func Products(t *source.RawTable) ([]warehouse.StagedProduct, EntityReport, []ValidationError, error) {
	rep := EntityReport{Entity: t.Entity, Read: len(t.Rows)}
	cols, err := standardize(t, []string{"product_id", "product_category_name"})
	if err != nil {
		return nil, rep, nil, err
	}
	// The public extract misspells "length"; accept either spelling.
	alias(cols, "product_name_length", "product_name_lenght")
	alias(cols, "product_description_length", "product_description_lenght")

	var out []warehouse.StagedProduct
	var verrs []ValidationError
	seen := make(map[string]bool, len(t.Rows))

	for i, cells := range t.Rows {
		r := &rowReader{entity: t.Entity, cols: cols, cells: cells, line: i + 2}
		r.key = r.str("product_id")

		row := warehouse.StagedProduct{
			ProductID:         r.key,
			CategoryName:      r.str("product_category_name"),
			NameLength:        r.measure("product_name_length"),
			DescriptionLength: r.measure("product_description_length"),
			PhotosQty:         r.measure("product_photos_qty"),
			WeightG:           r.measure("product_weight_g"),
			LengthCM:          r.measure("product_length_cm"),
			HeightCM:          r.measure("product_height_cm"),
			WidthCM:           r.measure("product_width_cm"),
		}
		row.VolumeCM3 = row.LengthCM * row.HeightCM * row.WidthCM
		r.check(row)

		if r.err != nil {
			rep.Rejected++
			verrs = append(verrs, *r.err)
			continue
		}
		if seen[row.ProductID] {
			rep.Duplicates++
			continue
		}
		seen[row.ProductID] = true
		out = append(out, row)
	}

	rep.Accepted = len(out)
	return out, rep, verrs, nil
}

// Translations cleanses the category label extract. Grain: local name.
func Translations(t *source.RawTable) ([]warehouse.CategoryTranslation, EntityReport, []ValidationError, error) {
	rep := EntityReport{Entity: t.Entity, Read: len(t.Rows)}
	cols, err := standardize(t, []string{"product_category_name", "product_category_name_english"})
	if err != nil {
		return nil, rep, nil, err
	}

	var out []warehouse.CategoryTranslation
	var verrs []ValidationError
	seen := make(map[string]bool, len(t.Rows))

	for i, cells := range t.Rows {
		r := &rowReader{entity: t.Entity, cols: cols, cells: cells, line: i + 2}
		r.key = r.str("product_category_name")

		row := warehouse.CategoryTranslation{
			CategoryName:        r.key,
			CategoryNameEnglish: r.str("product_category_name_english"),
		}
		r.check(row)

		if r.err != nil {
			rep.Rejected++
			verrs = append(verrs, *r.err)
			continue
		}
		if seen[row.CategoryName] {
			rep.Duplicates++
			continue
		}
		seen[row.CategoryName] = true
		out = append(out, row)
	}

	rep.Accepted = len(out)
	return out, rep, verrs, nil
}

func alias(cols columns, canonical, variant string) {
	if _, ok := cols[canonical]; ok {
		return
	}
	if i, ok := cols[variant]; ok {
		cols[canonical] = i
	}
}

// Summary renders per-entity counts in entity order for logs.
func (r *Report) Summary() string {
	names := make([]string, 0, len(r.Entities))
	for _, e := range source.Entities {
		if er, ok := r.Entities[e]; ok {
			names = append(names, fmt.Sprintf("%s=%d/%d", e, er.Accepted, er.Read))
		}
	}
	return strings.Join(names, " ")
}
