package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/cleanse"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/fact"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/quality"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/source"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

func raw(e source.Entity, header string, rows ...string) *source.RawTable {
	t := &source.RawTable{Entity: e, Header: strings.Split(header, ",")}
	for _, r := range rows {
		t.Rows = append(t.Rows, strings.Split(r, ","))
	}
	return t
}

func snapshot() *source.Snapshot {
	return &source.Snapshot{
		Fingerprint: "sha256:test",
		Tables: map[source.Entity]*source.RawTable{
			source.EntityOrders: raw(source.EntityOrders,
				"order_id,customer_id,order_status,order_purchase_timestamp,order_approved_at,order_delivered_carrier_date,order_delivered_customer_date,order_estimated_delivery_date",
				"o1,c1,delivered,2026-01-10 10:00:00,2026-01-10 11:00:00,,2026-01-15 12:00:00,2026-01-20 00:00:00",
				"o2,c2,shipped,2026-02-01 09:00:00,2026-02-01 10:00:00,2026-02-02 10:00:00,,",
				"o3,c3,delivered,2026-01-10 08:00:00,,,2026-01-05 08:00:00,",
				"o4,c4,canceled,2026-03-01 08:00:00,,,,",
				"o5,c5,delivered,bad-date,,,,",
			),
			source.EntityCustomers: raw(source.EntityCustomers,
				"customer_id,customer_unique_id,customer_zip_code_prefix,customer_city,customer_state",
				"c1,u1,01000,sao paulo,SP",
				"c2,u1,01000,sao paulo,SP",
				"c3,u2,20000,rio de janeiro,RJ",
				"c4,u3,30000,belo horizonte,MG",
				"c5,u4,40000,salvador,BA",
				"c6,u5,50000,recife,PE",
			),
			source.EntityOrderItems: raw(source.EntityOrderItems,
				"order_id,order_item_id,product_id,seller_id,shipping_limit_date,price,freight_value",
				"o1,1,p1,s1,,58.90,13.29",
				"o1,2,p2,s1,,20.10,0.20",
				"o2,1,p1,s2,,100.00,10.00",
				"o3,1,p3,s2,,10.00,1.00",
				"o9,1,p1,s2,,10.00,1.00",
			),
			source.EntityProducts: raw(source.EntityProducts,
				"product_id,product_category_name,product_weight_g,product_length_cm,product_height_cm,product_width_cm",
				"p1,beleza_saude,225,16,10,14",
				"p2,artes,100,10,10,10",
			),
			source.EntityCategoryTranslation: raw(source.EntityCategoryTranslation,
				"product_category_name,product_category_name_english",
				"beleza_saude,health_beauty",
			),
		},
	}
}

func options() Options {
	return DefaultOptions(time.Date(2026, 3, 31, 15, 0, 0, 0, time.UTC))
}

func TestRunBuildsEveryRelation(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemoryStore()

	res, err := New(store, options()).Run(ctx, snapshot())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Relations) != 18 {
		t.Errorf("expected 18 relations, got %d: %v", len(res.Relations), res.RelationNames())
	}
	if !res.Quality.Passed {
		t.Errorf("quality should pass: %v", res.Quality.Errors)
	}
	if res.Cleanse.Rejected() != 1 {
		t.Errorf("expected 1 rejected row, got %d", res.Cleanse.Rejected())
	}
	if res.Defects[fact.CheckUnresolvedProduct] != 1 || res.Defects[fact.CheckUnknownOrder] != 1 {
		t.Errorf("unexpected defects: %v", res.Defects)
	}

	issues, err := warehouse.Load[warehouse.Issue](ctx, store, warehouse.TableQualityIssues)
	if err != nil {
		t.Fatalf("load issues: %v", err)
	}
	counts := quality.Counts(issues)
	if counts[quality.CheckDeliveredBeforePurchase] != 1 || counts[quality.CheckValidation] != 1 {
		t.Errorf("unexpected issue counts: %v", counts)
	}
}

func TestRunInvariants(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemoryStore()
	if _, err := New(store, options()).Run(ctx, snapshot()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sales, _ := warehouse.Load[warehouse.FactSales](ctx, store, warehouse.TableFactSales)
	monthly, _ := warehouse.Load[warehouse.MonthlyRevenue](ctx, store, warehouse.TableMonthlyRevenue)
	var delivered, months money.Sum
	for _, s := range sales {
		if s.IsDelivered {
			delivered.Add(s.TotalOrderValue)
		}
	}
	for _, m := range monthly {
		months.Add(m.TotalRevenue)
	}
	if !delivered.Decimal().Equal(months.Decimal()) {
		t.Errorf("monthly revenue %s differs from delivered sales %s", months.Decimal(), delivered.Decimal())
	}

	customers, _ := warehouse.Load[warehouse.DimCustomer](ctx, store, warehouse.TableDimCustomers)
	risk, _ := warehouse.Load[warehouse.CustomerRisk](ctx, store, warehouse.TableCustomerRisk)
	if len(risk) != len(customers) {
		t.Errorf("risk has %d rows for %d customers", len(risk), len(customers))
	}

	rfm, _ := warehouse.Load[warehouse.CustomerRFM](ctx, store, warehouse.TableCustomerRFM)
	if len(rfm) != 2 {
		t.Errorf("only u1 and u2 have qualifying orders, got %d rfm rows", len(rfm))
	}
	for _, r := range rfm {
		if r.CustomerUniqueID == "u1" && (r.FrequencyCount != 2 || r.MonetaryValue != 202.49) {
			t.Errorf("u1 rfm = %+v", r)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemoryStore()
	p := New(store, options())

	first, err := p.Run(ctx, snapshot())
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	second, err := p.Run(ctx, snapshot())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !reflect.DeepEqual(first.Relations, second.Relations) {
		for name, info := range first.Relations {
			if second.Relations[name] != info {
				t.Errorf("%s changed between identical runs: %s vs %s", name, info.Checksum, second.Relations[name].Checksum)
			}
		}
	}
}

func TestStructuralFailureKeepsMarts(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemoryStore()
	p := New(store, options())

	if _, err := p.Run(ctx, snapshot()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	before, _ := warehouse.Load[warehouse.CustomerRisk](ctx, store, warehouse.TableCustomerRisk)

	broken := snapshot()
	broken.Tables[source.EntityOrders] = raw(source.EntityOrders, "order_id,customer_id,order_status", "o1,c1,delivered")
	if _, err := p.Run(ctx, broken); !errors.Is(err, cleanse.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got: %v", err)
	}

	after, _ := warehouse.Load[warehouse.CustomerRisk](ctx, store, warehouse.TableCustomerRisk)
	if !reflect.DeepEqual(before, after) {
		t.Error("marts changed after a structural failure")
	}
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	opts := options()
	opts.ReferenceDate = time.Time{}
	opts.QualifyingStatuses = nil
	if _, err := New(warehouse.NewMemoryStore(), opts).Run(context.Background(), snapshot()); err == nil {
		t.Error("expected invalid options error")
	}
}

func TestRunOnBlobStore(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	store := warehouse.NewBlobStore(bucket, "warehouse/")
	defer store.Close()

	res, err := New(store, options()).Run(ctx, snapshot())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	manifest, err := store.ReadManifest(ctx)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	for name, info := range res.Relations {
		stored, ok := manifest.Tables[name]
		if !ok {
			t.Errorf("%s missing from manifest", name)
			continue
		}
		if stored.Checksum != info.Checksum {
			t.Errorf("%s checksum %s, manifest has %s", name, info.Checksum, stored.Checksum)
		}
	}
}

func TestReferenceDateBeforeLatestPurchase(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemoryStore()
	if _, err := New(store, options()).Run(ctx, snapshot()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	before, _ := warehouse.Load[warehouse.CustomerRisk](ctx, store, warehouse.TableCustomerRisk)

	opts := options()
	opts.ReferenceDate = time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	if _, err := New(store, opts).Run(ctx, snapshot()); !errors.Is(err, ErrReferenceDate) {
		t.Fatalf("expected ErrReferenceDate, got: %v", err)
	}

	after, _ := warehouse.Load[warehouse.CustomerRisk](ctx, store, warehouse.TableCustomerRisk)
	if !reflect.DeepEqual(before, after) {
		t.Error("marts changed after a rejected reference date")
	}
	for _, r := range after {
		if r.RiskScore < 0 || (r.DaysSinceLastPurchase != nil && *r.DaysSinceLastPurchase < 0) {
			t.Errorf("negative recency stored: %+v", r)
		}
	}
}

func TestReferenceDateOnLatestPurchaseDay(t *testing.T) {
	opts := options()
	opts.ReferenceDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := warehouse.NewMemoryStore()
	if _, err := New(store, opts).Run(context.Background(), snapshot()); err != nil {
		t.Fatalf("reference date on the latest purchase day should run: %v", err)
	}
	rfm, _ := warehouse.Load[warehouse.CustomerRFM](context.Background(), store, warehouse.TableCustomerRFM)
	for _, r := range rfm {
		if r.RecencyDays < 0 {
			t.Errorf("negative recency for %s: %d", r.CustomerUniqueID, r.RecencyDays)
		}
	}
}

func TestQualifyingStatusesIgnoreCase(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemoryStore()
	opts := options()
	opts.QualifyingStatuses = []string{"Delivered", " SHIPPED ", "approved"}
	if _, err := New(store, opts).Run(ctx, snapshot()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	rfm, _ := warehouse.Load[warehouse.CustomerRFM](ctx, store, warehouse.TableCustomerRFM)
	if len(rfm) != 2 {
		t.Errorf("mixed-case statuses should still qualify orders, got %d rfm rows", len(rfm))
	}
}

func TestLatestPurchase(t *testing.T) {
	statuses := warehouse.NewStatusSet(warehouse.DefaultQualifyingStatuses)
	orders := []warehouse.StagedOrder{
		{OrderID: "a", Status: "delivered", PurchasedAt: time.Date(2026, 1, 10, 22, 0, 0, 0, time.UTC)},
		{OrderID: "b", Status: "canceled", PurchasedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	got, ok := LatestPurchase(orders, statuses)
	if !ok || !got.Equal(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LatestPurchase = %v, %v", got, ok)
	}
	if _, ok := LatestPurchase(orders[1:], statuses); ok {
		t.Error("canceled orders should not count")
	}
}
