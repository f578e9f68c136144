package dimension

import (
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/staging"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func defaultOptions(ref time.Time) Options {
	return Options{
		ReferenceDate:           ref,
		QualifyingStatuses:      warehouse.NewStatusSet(warehouse.DefaultQualifyingStatuses),
		InactivityThresholdDays: 90,
	}
}

func sampleSnapshot() *staging.Snapshot {
	return &staging.Snapshot{
		Customers: []warehouse.StagedCustomer{
			{CustomerUniqueID: "u2", CustomerID: "c3", City: "rio de janeiro", State: "RJ"},
			{CustomerUniqueID: "u1", CustomerID: "c1", City: "sao paulo", State: "SP"},
			{CustomerUniqueID: "u3", CustomerID: "c4"},
		},
		Accounts: []warehouse.CustomerAccount{
			{CustomerID: "c1", CustomerUniqueID: "u1"},
			{CustomerID: "c2", CustomerUniqueID: "u1"},
			{CustomerID: "c3", CustomerUniqueID: "u2"},
			{CustomerID: "c4", CustomerUniqueID: "u3"},
		},
		Orders: []warehouse.StagedOrder{
			{OrderID: "o1", CustomerID: "c1", Status: "delivered", PurchasedAt: at(2026, 1, 10, 10)},
			{OrderID: "o2", CustomerID: "c2", Status: "shipped", PurchasedAt: at(2026, 3, 1, 23)},
			{OrderID: "o3", CustomerID: "c3", Status: "delivered", PurchasedAt: at(2025, 9, 1, 8)},
			{OrderID: "o4", CustomerID: "c4", Status: "canceled", PurchasedAt: at(2026, 2, 1, 8)},
			{OrderID: "o5", CustomerID: "c9", Status: "delivered", PurchasedAt: at(2026, 1, 12, 8)},
		},
		OrderItems: []warehouse.StagedOrderItem{
			{OrderID: "o1", OrderItemID: 1, ProductID: "p1", Price: 50, Freight: 10, ItemTotalValue: 60},
			{OrderID: "o1", OrderItemID: 2, ProductID: "p2", Price: 20.10, Freight: 0.2, ItemTotalValue: 20.30},
			{OrderID: "o2", OrderItemID: 1, ProductID: "p1", Price: 50, Freight: 10, ItemTotalValue: 60},
			{OrderID: "o3", OrderItemID: 1, ProductID: "p2", Price: 5, Freight: 1, ItemTotalValue: 6},
			{OrderID: "o4", OrderItemID: 1, ProductID: "p2", Price: 5, Freight: 1, ItemTotalValue: 6},
		},
		Products: []warehouse.StagedProduct{
			{ProductID: "p2", CategoryName: "artes", VolumeCM3: 8},
			{ProductID: "p1", CategoryName: "beleza_saude", VolumeCM3: 100},
		},
		Translations: []warehouse.CategoryTranslation{
			{CategoryName: "beleza_saude", CategoryNameEnglish: "health_beauty"},
		},
	}
}

func TestCustomersRollup(t *testing.T) {
	dims := Customers(sampleSnapshot(), defaultOptions(day(2026, 3, 31)))

	if len(dims) != 3 {
		t.Fatalf("expected 3 customers, got %d", len(dims))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if dims[i].CustomerUniqueID != want || dims[i].CustomerSK != int64(i+1) {
			t.Errorf("row %d = %s/%d, want %s/%d", i, dims[i].CustomerUniqueID, dims[i].CustomerSK, want, i+1)
		}
	}

	u1 := dims[0]
	if u1.TotalOrders != 2 {
		t.Errorf("u1 orders = %d, want 2 (both accounts count)", u1.TotalOrders)
	}
	if u1.TotalSpent != 140.30 {
		t.Errorf("u1 spent = %v, want 140.30", u1.TotalSpent)
	}
	if !u1.FirstOrderDate.Equal(day(2026, 1, 10)) || !u1.LastOrderDate.Equal(day(2026, 3, 1)) {
		t.Errorf("u1 dates = %v..%v", u1.FirstOrderDate, u1.LastOrderDate)
	}
	if !u1.IsActive {
		t.Error("u1 ordered 30 days ago and should be active")
	}

	u2 := dims[1]
	if u2.IsActive {
		t.Error("u2 last ordered 211 days ago and should be inactive")
	}

	u3 := dims[2]
	if u3.TotalOrders != 0 || u3.TotalSpent != 0 || u3.LastOrderDate != nil || u3.IsActive {
		t.Errorf("u3 has only a canceled order and should have no rollup: %+v", u3)
	}
}

func TestActiveThresholdIsInclusive(t *testing.T) {
	s := sampleSnapshot()
	// u1's last order is 2026-03-01; 90 days later is 2026-05-30.
	dims := Customers(s, defaultOptions(day(2026, 5, 30)))
	if !dims[0].IsActive {
		t.Error("exactly 90 days since last order should still be active")
	}
	dims = Customers(s, defaultOptions(day(2026, 5, 31)))
	if dims[0].IsActive {
		t.Error("91 days since last order should be inactive")
	}
}

func TestSurrogateKeysAreStable(t *testing.T) {
	a := Customers(sampleSnapshot(), defaultOptions(day(2026, 3, 31)))

	shuffled := sampleSnapshot()
	shuffled.Customers[0], shuffled.Customers[2] = shuffled.Customers[2], shuffled.Customers[0]
	b := Customers(shuffled, defaultOptions(day(2026, 3, 31)))

	for i := range a {
		if a[i].CustomerUniqueID != b[i].CustomerUniqueID || a[i].CustomerSK != b[i].CustomerSK {
			t.Errorf("row %d differs after reordering input: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestProductsTranslation(t *testing.T) {
	s := sampleSnapshot()
	dims := Products(s.Products, s.Translations)

	if len(dims) != 2 || dims[0].ProductID != "p1" || dims[0].ProductSK != 1 {
		t.Fatalf("unexpected products: %+v", dims)
	}
	if dims[0].CategoryNameEnglish == nil || *dims[0].CategoryNameEnglish != "health_beauty" {
		t.Errorf("p1 should be translated, got %v", dims[0].CategoryNameEnglish)
	}
	if dims[1].CategoryNameEnglish != nil {
		t.Errorf("p2 has no translation and should be null")
	}
	if dims[1].Category() != "artes" {
		t.Errorf("untranslated category should fall back to local label, got %s", dims[1].Category())
	}
}

func TestCalendarIsContinuous(t *testing.T) {
	orders := []warehouse.StagedOrder{
		{OrderID: "a", PurchasedAt: at(2026, 1, 3, 22)},
		{OrderID: "b", PurchasedAt: at(2025, 12, 30, 1)},
	}
	cal := Calendar(orders)

	if len(cal) != 5 {
		t.Fatalf("expected 5 days, got %d", len(cal))
	}
	if cal[0].DateSK != 20251230 || cal[4].DateSK != 20260103 {
		t.Errorf("range = %d..%d", cal[0].DateSK, cal[4].DateSK)
	}
	for i := 1; i < len(cal); i++ {
		if !cal[i].Date.Equal(cal[i-1].Date.AddDate(0, 0, 1)) {
			t.Errorf("gap between %v and %v", cal[i-1].Date, cal[i].Date)
		}
	}
}

func TestCalendarEmpty(t *testing.T) {
	if cal := Calendar(nil); len(cal) != 0 {
		t.Errorf("no orders should yield no days, got %d", len(cal))
	}
}

func TestCalendarDayAttributes(t *testing.T) {
	tests := []struct {
		date    time.Time
		dow     int32
		week    int32
		quarter int32
		weekend bool
	}{
		{day(2026, 1, 1), 4, 0, 1, false},  // Thursday before the first Monday
		{day(2026, 1, 4), 0, 0, 1, true},   // Sunday
		{day(2026, 1, 5), 1, 1, 1, false},  // first Monday
		{day(2026, 1, 10), 6, 1, 1, true},  // Saturday
		{day(2026, 7, 1), 3, 26, 3, false}, // Wednesday
		{day(2026, 12, 31), 4, 52, 4, false},
	}
	for _, tt := range tests {
		got := CalendarDay(tt.date)
		if got.DayOfWeek != tt.dow || got.WeekOfYear != tt.week || got.Quarter != tt.quarter || got.IsWeekend != tt.weekend {
			t.Errorf("%s: got dow=%d week=%d q=%d weekend=%v, want dow=%d week=%d q=%d weekend=%v",
				tt.date.Format("2006-01-02"), got.DayOfWeek, got.WeekOfYear, got.Quarter, got.IsWeekend,
				tt.dow, tt.week, tt.quarter, tt.weekend)
		}
	}
}
