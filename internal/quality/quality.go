// Package quality collects data-quality findings into dq_issues and checks
// the integrity of built dimensions and facts before anything downstream is
// published.
package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/cleanse"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/dimension"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/fact"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Checks reported in dq_issues besides the fact defects.
const (
	CheckValidation              = "validation"
	CheckDeliveredBeforePurchase = "delivered_before_purchase"
	CheckApprovedBeforePurchase  = "approved_before_purchase"
)

const timeLayout = "2006-01-02 15:04:05"

// Temporal flags orders whose lifecycle timestamps precede the purchase.
// Flagged orders are reported only; they stay in staging unchanged.
func Temporal(orders []warehouse.StagedOrder) []warehouse.Issue {
	var issues []warehouse.Issue
	for _, o := range orders {
		if o.DeliveredCustomerAt != nil && o.DeliveredCustomerAt.Before(o.PurchasedAt) {
			issues = append(issues, warehouse.Issue{
				Check:     CheckDeliveredBeforePurchase,
				Entity:    warehouse.TableStagedOrders,
				RecordKey: o.OrderID,
				Detail: fmt.Sprintf("delivered %s before purchase %s",
					o.DeliveredCustomerAt.UTC().Format(timeLayout), o.PurchasedAt.UTC().Format(timeLayout)),
			})
		}
		if o.ApprovedAt != nil && o.ApprovedAt.Before(o.PurchasedAt) {
			issues = append(issues, warehouse.Issue{
				Check:     CheckApprovedBeforePurchase,
				Entity:    warehouse.TableStagedOrders,
				RecordKey: o.OrderID,
				Detail: fmt.Sprintf("approved %s before purchase %s",
					o.ApprovedAt.UTC().Format(timeLayout), o.PurchasedAt.UTC().Format(timeLayout)),
			})
		}
	}
	return issues
}

// Rejections turns cleansing rejections into issues.
func Rejections(errs []cleanse.ValidationError) []warehouse.Issue {
	issues := make([]warehouse.Issue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, warehouse.Issue{
			Check:     CheckValidation,
			Entity:    string(e.Entity),
			RecordKey: e.RecordKey(),
			Detail:    fmt.Sprintf("line %d: %s %s", e.Line, e.Field, e.Reason),
		})
	}
	return issues
}

// Issues merges issue groups into the dq_issues relation, ordered by check,
// entity and record key.
func Issues(groups ...[]warehouse.Issue) []warehouse.Issue {
	var all []warehouse.Issue
	for _, g := range groups {
		all = append(all, g...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.RecordKey < b.RecordKey
	})
	return all
}

// Counts returns the number of issues per check.
func Counts(issues []warehouse.Issue) map[string]int {
	counts := make(map[string]int)
	for _, i := range issues {
		counts[i.Check]++
	}
	return counts
}

// Result contains the outcome of the integrity validation.
type Result struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// Error joins the validation errors into one message.
func (r Result) Error() string {
	return strings.Join(r.Errors, "; ")
}

// Validate checks the built dimensions and facts before they feed scoring:
//   - surrogate keys are unique in every dimension and fact
//   - every fact key references an existing dimension row
//   - every line belongs to a sales row and line totals match the order total
//
// Reported issues become warnings; they never fail validation.
func Validate(dims *dimension.Result, facts *fact.Result, issues []warehouse.Issue) Result {
	result := Result{Passed: true}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	customers := make(map[int64]bool, len(dims.Customers))
	for _, c := range dims.Customers {
		if customers[c.CustomerSK] {
			fail("duplicate customer_sk %d", c.CustomerSK)
		}
		customers[c.CustomerSK] = true
	}
	products := make(map[int64]bool, len(dims.Products))
	for _, p := range dims.Products {
		if products[p.ProductSK] {
			fail("duplicate product_sk %d", p.ProductSK)
		}
		products[p.ProductSK] = true
	}
	days := make(map[int32]bool, len(dims.Calendar))
	for _, d := range dims.Calendar {
		if days[d.DateSK] {
			fail("duplicate date_sk %d", d.DateSK)
		}
		days[d.DateSK] = true
	}

	sales := make(map[string]warehouse.FactSales, len(facts.Sales))
	salesSK := make(map[int64]bool, len(facts.Sales))
	for _, s := range facts.Sales {
		if salesSK[s.SalesSK] {
			fail("duplicate sales_sk %d", s.SalesSK)
		}
		salesSK[s.SalesSK] = true
		sales[s.OrderID] = s
		if !customers[s.CustomerSK] {
			fail("sale %s references missing customer_sk %d", s.OrderID, s.CustomerSK)
		}
		if !days[s.OrderDateSK] {
			fail("sale %s references missing date_sk %d", s.OrderID, s.OrderDateSK)
		}
	}

	lineTotals := make(map[string]*money.Sum)
	lineCounts := make(map[string]int64)
	for _, item := range facts.Items {
		if !products[item.ProductSK] {
			fail("line %s/%d references missing product_sk %d", item.OrderID, item.ItemSequence, item.ProductSK)
		}
		if _, ok := sales[item.OrderID]; !ok {
			fail("line %s/%d has no sales row", item.OrderID, item.ItemSequence)
			continue
		}
		if lineTotals[item.OrderID] == nil {
			lineTotals[item.OrderID] = &money.Sum{}
		}
		lineTotals[item.OrderID].Add(item.ItemTotalValue)
		lineCounts[item.OrderID]++
	}
	for _, s := range facts.Sales {
		var total float64
		if sum := lineTotals[s.OrderID]; sum != nil {
			total = sum.Float()
		}
		if total != s.TotalOrderValue || lineCounts[s.OrderID] != s.OrderItemCount {
			fail("sale %s totals %.2f over %d lines, lines give %.2f over %d",
				s.OrderID, s.TotalOrderValue, s.OrderItemCount, total, lineCounts[s.OrderID])
		}
	}

	counts := Counts(issues)
	checks := make([]string, 0, len(counts))
	for check := range counts {
		checks = append(checks, check)
	}
	sort.Strings(checks)
	for _, check := range checks {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d %s issues", counts[check], check))
	}

	return result
}
