package scoring

import (
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/dimension"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

func martInputs() *Inputs {
	english := "health_beauty"
	in := &Inputs{
		Calendar: []warehouse.DimDate{
			dimension.CalendarDay(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
			dimension.CalendarDay(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)),
			dimension.CalendarDay(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)),
		},
		Products: []warehouse.DimProduct{
			{ProductSK: 1, ProductID: "p1", CategoryName: "beleza_saude", CategoryNameEnglish: &english},
			{ProductSK: 2, ProductID: "p2", CategoryName: "artes"},
		},
		Sales: []warehouse.FactSales{
			{SalesSK: 1, OrderID: "o1", CustomerSK: 1, OrderDateSK: 20260110, OrderStatus: "delivered", IsDelivered: true,
				TotalOrderValue: 92.49, TotalFreight: 13.49, OrderItemCount: 2},
			{SalesSK: 2, OrderID: "o2", CustomerSK: 1, OrderDateSK: 20260120, OrderStatus: "delivered", IsDelivered: true,
				TotalOrderValue: 10.01, TotalFreight: 1, OrderItemCount: 1},
			{SalesSK: 3, OrderID: "o3", CustomerSK: 2, OrderDateSK: 20260120, OrderStatus: "shipped",
				TotalOrderValue: 50, TotalFreight: 5, OrderItemCount: 1},
			{SalesSK: 4, OrderID: "o4", CustomerSK: 2, OrderDateSK: 20260203, OrderStatus: "canceled",
				TotalOrderValue: 70, TotalFreight: 7, OrderItemCount: 1},
		},
		Items: []warehouse.FactOrderItem{
			{OrderItemSK: 1, OrderID: "o1", ProductSK: 1, ItemSequence: 1, ItemPrice: 58.90, ItemFreight: 13.29, ItemTotalValue: 72.19},
			{OrderItemSK: 2, OrderID: "o1", ProductSK: 2, ItemSequence: 2, ItemPrice: 20.10, ItemFreight: 0.20, ItemTotalValue: 20.30},
			{OrderItemSK: 3, OrderID: "o2", ProductSK: 1, ItemSequence: 1, ItemPrice: 9.01, ItemFreight: 1, ItemTotalValue: 10.01},
			{OrderItemSK: 4, OrderID: "o3", ProductSK: 2, ItemSequence: 1, ItemPrice: 45, ItemFreight: 5, ItemTotalValue: 50},
		},
	}
	return in
}

func TestMonthlyRevenueMatchesDeliveredSales(t *testing.T) {
	in := martInputs()
	rows, err := MonthlyRevenue(in)
	if err != nil {
		t.Fatalf("MonthlyRevenue failed: %v", err)
	}
	if len(rows) != 1 || rows[0].YearMonth != "2026-01" {
		t.Fatalf("only January has delivered sales, got %+v", rows)
	}
	if rows[0].OrderCount != 2 || rows[0].TotalRevenue != 102.50 || rows[0].AverageOrderValue != 51.25 {
		t.Errorf("unexpected January row: %+v", rows[0])
	}

	var months, delivered money.Sum
	for _, r := range rows {
		months.Add(r.TotalRevenue)
	}
	for _, s := range in.Sales {
		if s.IsDelivered {
			delivered.Add(s.TotalOrderValue)
		}
	}
	if !months.Decimal().Equal(delivered.Decimal()) {
		t.Errorf("monthly total %s differs from delivered total %s", months.Decimal(), delivered.Decimal())
	}
}

func TestMonthlySales(t *testing.T) {
	rows, err := MonthlySales(martInputs(), defaultOptions())
	if err != nil {
		t.Fatalf("MonthlySales failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("canceled February order should not count, got %+v", rows)
	}
	jan := rows[0]
	if jan.OrderCount != 3 || jan.CustomerCount != 2 || jan.ItemCount != 4 || jan.TotalRevenue != 152.50 || jan.TotalFreight != 19.49 {
		t.Errorf("unexpected January row: %+v", jan)
	}
}

func TestProductPerformanceByCategory(t *testing.T) {
	rows, err := ProductPerformance(martInputs())
	if err != nil {
		t.Fatalf("ProductPerformance failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 categories, got %+v", rows)
	}
	if rows[0].Category != "artes" || rows[0].UnitsSold != 2 || rows[0].TotalRevenue != 70.30 || rows[0].AveragePrice != 32.55 {
		t.Errorf("untranslated category row: %+v", rows[0])
	}
	if rows[1].Category != "health_beauty" || rows[1].UnitsSold != 2 || rows[1].TotalRevenue != 82.20 || rows[1].AveragePrice != 33.96 {
		t.Errorf("translated category row: %+v", rows[1])
	}
}

func TestProductSales(t *testing.T) {
	rows, err := ProductSales(martInputs())
	if err != nil {
		t.Fatalf("ProductSales failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ProductID != "p1" || rows[1].ProductID != "p2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].OrderCount != 2 || rows[0].UnitsSold != 2 || rows[0].Category != "health_beauty" {
		t.Errorf("p1 row: %+v", rows[0])
	}
}

func TestProductSalesUnknownProduct(t *testing.T) {
	in := martInputs()
	in.Items[0].ProductSK = 99
	if _, err := ProductSales(in); err == nil {
		t.Error("line with an unknown product should fail the build")
	}
}
