package warehouse

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SchemaVersion is bumped whenever a relation's columns change.
const SchemaVersion = "1"

// Relation names as persisted by every backend.
const (
	TableStagedOrders         = "stg_orders"
	TableStagedCustomers      = "stg_customers"
	TableCustomerAccounts     = "stg_customer_accounts"
	TableStagedOrderItems     = "stg_order_items"
	TableStagedProducts       = "stg_products"
	TableCategoryTranslations = "stg_category_translation"

	TableDimCustomers = "dim_customers"
	TableDimProducts  = "dim_products"
	TableDimDate      = "dim_date"

	TableFactSales      = "fct_sales"
	TableFactOrderItems = "fct_order_items"

	TableCustomerRFM        = "analytics_customer_rfm"
	TableCustomerRisk       = "analytics_customer_risk_scoring"
	TableMonthlyRevenue     = "analytics_monthly_revenue"
	TableProductPerformance = "analytics_product_performance"
	TableMonthlySales       = "mart_monthly_sales"
	TableProductSales       = "mart_product_sales"
	TableQualityIssues      = "dq_issues"
)

// StagedOrder is one row of stg_orders. Grain: OrderID.
type StagedOrder struct {
	OrderID             string     `parquet:"order_id" db:"order_id" validate:"required"`
	CustomerID          string     `parquet:"customer_id" db:"customer_id" validate:"required"`
	Status              string     `parquet:"order_status" db:"order_status" validate:"required"`
	PurchasedAt         time.Time  `parquet:"order_purchase_timestamp,timestamp(millisecond)" db:"order_purchase_timestamp"`
	ApprovedAt          *time.Time `parquet:"order_approved_at" db:"order_approved_at"`
	DeliveredCarrierAt  *time.Time `parquet:"order_delivered_carrier_date" db:"order_delivered_carrier_date"`
	DeliveredCustomerAt *time.Time `parquet:"order_delivered_customer_date" db:"order_delivered_customer_date"`
	EstimatedDeliveryAt *time.Time `parquet:"order_estimated_delivery_date" db:"order_estimated_delivery_date"`
}

func (StagedOrder) TableName() string { return TableStagedOrders }

// StagedCustomer is one row of stg_customers. Grain: CustomerUniqueID.
// CustomerID is the first account seen for the customer.
type StagedCustomer struct {
	CustomerUniqueID string `parquet:"customer_unique_id" db:"customer_unique_id" validate:"required"`
	CustomerID       string `parquet:"customer_id" db:"customer_id" validate:"required"`
	ZipCodePrefix    string `parquet:"zip_code_prefix" db:"zip_code_prefix"`
	City             string `parquet:"city" db:"city"`
	State            string `parquet:"state" db:"state"`
}

func (StagedCustomer) TableName() string { return TableStagedCustomers }

// CustomerAccount maps every order-level customer_id to its customer.
type CustomerAccount struct {
	CustomerID       string `parquet:"customer_id" db:"customer_id"`
	CustomerUniqueID string `parquet:"customer_unique_id" db:"customer_unique_id"`
}

func (CustomerAccount) TableName() string { return TableCustomerAccounts }

// StagedOrderItem is one row of stg_order_items. Grain: (OrderID, OrderItemID).
type StagedOrderItem struct {
	OrderID         string     `parquet:"order_id" db:"order_id" validate:"required"`
	OrderItemID     int64      `parquet:"order_item_id" db:"order_item_id" validate:"gte=1"`
	ProductID       string     `parquet:"product_id" db:"product_id" validate:"required"`
	SellerID        string     `parquet:"seller_id" db:"seller_id"`
	ShippingLimitAt *time.Time `parquet:"shipping_limit_date" db:"shipping_limit_date"`
	Price           float64    `parquet:"price" db:"price" validate:"gt=0"`
	Freight         float64    `parquet:"freight_value" db:"freight_value" validate:"gte=0"`
	ItemTotalValue  float64    `parquet:"item_total_value" db:"item_total_value"`
}

func (StagedOrderItem) TableName() string { return TableStagedOrderItems }

// StagedProduct is one row of stg_products. Grain: ProductID.
type StagedProduct struct {
	ProductID         string  `parquet:"product_id" db:"product_id" validate:"required"`
	CategoryName      string  `parquet:"category_name" db:"category_name" validate:"required"`
	NameLength        float64 `parquet:"name_length" db:"name_length" validate:"gte=0"`
	DescriptionLength float64 `parquet:"description_length" db:"description_length" validate:"gte=0"`
	PhotosQty         float64 `parquet:"photos_qty" db:"photos_qty" validate:"gte=0"`
	WeightG           float64 `parquet:"weight_g" db:"weight_g" validate:"gte=0"`
	LengthCM          float64 `parquet:"length_cm" db:"length_cm" validate:"gte=0"`
	HeightCM          float64 `parquet:"height_cm" db:"height_cm" validate:"gte=0"`
	WidthCM           float64 `parquet:"width_cm" db:"width_cm" validate:"gte=0"`
	VolumeCM3         float64 `parquet:"volume_cm3" db:"volume_cm3"`
}

func (StagedProduct) TableName() string { return TableStagedProducts }

// CategoryTranslation is one row of stg_category_translation. Grain: CategoryName.
type CategoryTranslation struct {
	CategoryName        string `parquet:"category_name" db:"category_name" validate:"required"`
	CategoryNameEnglish string `parquet:"category_name_english" db:"category_name_english" validate:"required"`
}

func (CategoryTranslation) TableName() string { return TableCategoryTranslations }

// DimCustomer is one row of dim_customers.
type DimCustomer struct {
	CustomerSK       int64      `parquet:"customer_sk" db:"customer_sk"`
	CustomerUniqueID string     `parquet:"customer_unique_id" db:"customer_unique_id"`
	CustomerID       string     `parquet:"customer_id" db:"customer_id"`
	City             string     `parquet:"city" db:"city"`
	State            string     `parquet:"state" db:"state"`
	ZipCodePrefix    string     `parquet:"zip_code_prefix" db:"zip_code_prefix"`
	FirstOrderDate   *time.Time `parquet:"first_order_date" db:"first_order_date"`
	LastOrderDate    *time.Time `parquet:"last_order_date" db:"last_order_date"`
	TotalOrders      int64      `parquet:"total_orders" db:"total_orders"`
	TotalSpent       float64    `parquet:"total_spent" db:"total_spent"`
	IsActive         bool       `parquet:"is_active" db:"is_active"`
}

func (DimCustomer) TableName() string { return TableDimCustomers }

// DimProduct is one row of dim_products.
type DimProduct struct {
	ProductSK           int64   `parquet:"product_sk" db:"product_sk"`
	ProductID           string  `parquet:"product_id" db:"product_id"`
	CategoryName        string  `parquet:"category_name" db:"category_name"`
	CategoryNameEnglish *string `parquet:"category_name_english" db:"category_name_english"`
	NameLength          float64 `parquet:"name_length" db:"name_length"`
	DescriptionLength   float64 `parquet:"description_length" db:"description_length"`
	PhotosQty           float64 `parquet:"photos_qty" db:"photos_qty"`
	WeightG             float64 `parquet:"weight_g" db:"weight_g"`
	VolumeCM3           float64 `parquet:"volume_cm3" db:"volume_cm3"`
}

func (DimProduct) TableName() string { return TableDimProducts }

// Category returns the English label when one exists, else the local label.
func (p DimProduct) Category() string {
	if p.CategoryNameEnglish != nil {
		return *p.CategoryNameEnglish
	}
	return p.CategoryName
}

// DimDate is one row of dim_date.
type DimDate struct {
	DateSK     int32     `parquet:"date_sk" db:"date_sk"`
	Date       time.Time `parquet:"date,timestamp(millisecond)" db:"date"`
	Year       int32     `parquet:"year" db:"year"`
	Quarter    int32     `parquet:"quarter" db:"quarter"`
	Month      int32     `parquet:"month" db:"month"`
	Day        int32     `parquet:"day" db:"day"`
	DayOfWeek  int32     `parquet:"day_of_week" db:"day_of_week"`   // 0 = Sunday
	WeekOfYear int32     `parquet:"week_of_year" db:"week_of_year"` // Monday-first
	IsWeekend  bool      `parquet:"is_weekend" db:"is_weekend"`
}

func (DimDate) TableName() string { return TableDimDate }

// YearMonth returns the "YYYY-MM" label of the day.
func (d DimDate) YearMonth() string {
	return d.Date.Format("2006-01")
}

// FactSales is one row of fct_sales. Grain: one row per order.
type FactSales struct {
	SalesSK         int64   `parquet:"sales_sk" db:"sales_sk"`
	OrderID         string  `parquet:"order_id" db:"order_id"`
	CustomerSK      int64   `parquet:"customer_sk" db:"customer_sk"`
	OrderDateSK     int32   `parquet:"order_date_sk" db:"order_date_sk"`
	OrderStatus     string  `parquet:"order_status" db:"order_status"`
	TotalPrice      float64 `parquet:"total_price" db:"total_price"`
	TotalFreight    float64 `parquet:"total_freight" db:"total_freight"`
	TotalOrderValue float64 `parquet:"total_order_value" db:"total_order_value"`
	OrderItemCount  int64   `parquet:"order_item_count" db:"order_item_count"`
	DaysToDelivery  *int64  `parquet:"days_to_delivery" db:"days_to_delivery"`
	IsDelivered     bool    `parquet:"is_delivered" db:"is_delivered"`
}

func (FactSales) TableName() string { return TableFactSales }

// FactOrderItem is one row of fct_order_items. Grain: one row per order line.
type FactOrderItem struct {
	OrderItemSK    int64   `parquet:"order_item_sk" db:"order_item_sk"`
	OrderID        string  `parquet:"order_id" db:"order_id"`
	ProductSK      int64   `parquet:"product_sk" db:"product_sk"`
	ItemSequence   int64   `parquet:"item_sequence" db:"item_sequence"`
	ItemPrice      float64 `parquet:"item_price" db:"item_price"`
	ItemFreight    float64 `parquet:"item_freight" db:"item_freight"`
	ItemTotalValue float64 `parquet:"item_total_value" db:"item_total_value"`
}

func (FactOrderItem) TableName() string { return TableFactOrderItems }

// CustomerRFM is one row of analytics_customer_rfm.
type CustomerRFM struct {
	CustomerSK       int64   `parquet:"customer_sk" db:"customer_sk"`
	CustomerUniqueID string  `parquet:"customer_unique_id" db:"customer_unique_id"`
	RecencyDays      int64   `parquet:"recency_days" db:"recency_days"`
	FrequencyCount   int64   `parquet:"frequency_count" db:"frequency_count"`
	MonetaryValue    float64 `parquet:"monetary_value" db:"monetary_value"`
	RScore           int32   `parquet:"r_score" db:"r_score"`
	FScore           int32   `parquet:"f_score" db:"f_score"`
	MScore           int32   `parquet:"m_score" db:"m_score"`
	RFMScore         string  `parquet:"rfm_score" db:"rfm_score"`
	Segment          string  `parquet:"segment" db:"segment"`
}

func (CustomerRFM) TableName() string { return TableCustomerRFM }

// CustomerRisk is one row of analytics_customer_risk_scoring.
type CustomerRisk struct {
	CustomerSK            int64      `parquet:"customer_sk" db:"customer_sk"`
	CustomerUniqueID      string     `parquet:"customer_unique_id" db:"customer_unique_id"`
	LastPurchaseDate      *time.Time `parquet:"last_purchase_date" db:"last_purchase_date"`
	DaysSinceLastPurchase *int64     `parquet:"days_since_last_purchase" db:"days_since_last_purchase"`
	PurchaseFrequency     int64      `parquet:"purchase_frequency" db:"purchase_frequency"`
	AverageOrderValue     *float64   `parquet:"average_order_value" db:"average_order_value"`
	LifetimeValue         float64    `parquet:"lifetime_value" db:"lifetime_value"`
	RiskScore             float64    `parquet:"risk_score" db:"risk_score"`
	RiskCategory          string     `parquet:"risk_category" db:"risk_category"`
	RiskReason            string     `parquet:"risk_reason" db:"risk_reason"`
	AlertFlag             int32      `parquet:"alert_flag" db:"alert_flag"`
}

func (CustomerRisk) TableName() string { return TableCustomerRisk }

// MonthlyRevenue is one row of analytics_monthly_revenue.
type MonthlyRevenue struct {
	YearMonth         string  `parquet:"year_month" db:"year_month"`
	TotalRevenue      float64 `parquet:"total_revenue" db:"total_revenue"`
	OrderCount        int64   `parquet:"order_count" db:"order_count"`
	AverageOrderValue float64 `parquet:"average_order_value" db:"average_order_value"`
}

func (MonthlyRevenue) TableName() string { return TableMonthlyRevenue }

// ProductPerformance is one row of analytics_product_performance.
type ProductPerformance struct {
	Category     string  `parquet:"category" db:"category"`
	TotalRevenue float64 `parquet:"total_revenue" db:"total_revenue"`
	UnitsSold    int64   `parquet:"units_sold" db:"units_sold"`
	AveragePrice float64 `parquet:"average_price" db:"average_price"`
}

func (ProductPerformance) TableName() string { return TableProductPerformance }

// MonthlySales is one row of mart_monthly_sales.
type MonthlySales struct {
	YearMonth     string  `parquet:"year_month" db:"year_month"`
	OrderCount    int64   `parquet:"order_count" db:"order_count"`
	CustomerCount int64   `parquet:"customer_count" db:"customer_count"`
	TotalRevenue  float64 `parquet:"total_revenue" db:"total_revenue"`
	TotalFreight  float64 `parquet:"total_freight" db:"total_freight"`
	ItemCount     int64   `parquet:"item_count" db:"item_count"`
}

func (MonthlySales) TableName() string { return TableMonthlySales }

// ProductSales is one row of mart_product_sales.
type ProductSales struct {
	ProductSK    int64   `parquet:"product_sk" db:"product_sk"`
	ProductID    string  `parquet:"product_id" db:"product_id"`
	Category     string  `parquet:"category" db:"category"`
	UnitsSold    int64   `parquet:"units_sold" db:"units_sold"`
	OrderCount   int64   `parquet:"order_count" db:"order_count"`
	TotalRevenue float64 `parquet:"total_revenue" db:"total_revenue"`
	AveragePrice float64 `parquet:"average_price" db:"average_price"`
}

func (ProductSales) TableName() string { return TableProductSales }

// Issue is one row of dq_issues.
type Issue struct {
	Check     string `parquet:"check" db:"check_name"`
	Entity    string `parquet:"entity" db:"entity"`
	RecordKey string `parquet:"record_key" db:"record_key"`
	Detail    string `parquet:"detail" db:"detail"`
}

func (Issue) TableName() string { return TableQualityIssues }

// DateSK returns the yyyymmdd surrogate key of t's UTC calendar day.
func DateSK(t time.Time) int32 {
	t = t.UTC()
	return int32(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from one calendar day to another.
func DaysBetween(from, to time.Time) int64 {
	return int64(Day(to).Sub(Day(from)).Hours() / 24)
}

// ElapsedDays is DaysBetween floored at zero. A day after to counts as no
// time elapsed.
func ElapsedDays(from, to time.Time) int64 {
	if d := DaysBetween(from, to); d > 0 {
		return d
	}
	return 0
}

// StatusSet is a set of order statuses.
type StatusSet map[string]bool

// NewStatusSet builds a set from status names. Names are matched the way
// cleansed order statuses are stored: trimmed and lower case.
func NewStatusSet(statuses []string) StatusSet {
	s := make(StatusSet, len(statuses))
	for _, st := range statuses {
		if st = NormalizeStatus(st); st != "" {
			s[st] = true
		}
	}
	return s
}

// NormalizeStatus trims and lower-cases an order status.
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// DefaultQualifyingStatuses are the statuses that count as a purchase.
var DefaultQualifyingStatuses = []string{"delivered", "shipped", "approved"}

var relations = map[string]func() Table{
	TableStagedOrders:         func() Table { return NewTable[StagedOrder](TableStagedOrders, nil) },
	TableStagedCustomers:      func() Table { return NewTable[StagedCustomer](TableStagedCustomers, nil) },
	TableCustomerAccounts:     func() Table { return NewTable[CustomerAccount](TableCustomerAccounts, nil) },
	TableStagedOrderItems:     func() Table { return NewTable[StagedOrderItem](TableStagedOrderItems, nil) },
	TableStagedProducts:       func() Table { return NewTable[StagedProduct](TableStagedProducts, nil) },
	TableCategoryTranslations: func() Table { return NewTable[CategoryTranslation](TableCategoryTranslations, nil) },
	TableDimCustomers:         func() Table { return NewTable[DimCustomer](TableDimCustomers, nil) },
	TableDimProducts:          func() Table { return NewTable[DimProduct](TableDimProducts, nil) },
	TableDimDate:              func() Table { return NewTable[DimDate](TableDimDate, nil) },
	TableFactSales:            func() Table { return NewTable[FactSales](TableFactSales, nil) },
	TableFactOrderItems:       func() Table { return NewTable[FactOrderItem](TableFactOrderItems, nil) },
	TableCustomerRFM:          func() Table { return NewTable[CustomerRFM](TableCustomerRFM, nil) },
	TableCustomerRisk:         func() Table { return NewTable[CustomerRisk](TableCustomerRisk, nil) },
	TableMonthlyRevenue:       func() Table { return NewTable[MonthlyRevenue](TableMonthlyRevenue, nil) },
	TableProductPerformance:   func() Table { return NewTable[ProductPerformance](TableProductPerformance, nil) },
	TableMonthlySales:         func() Table { return NewTable[MonthlySales](TableMonthlySales, nil) },
	TableProductSales:         func() Table { return NewTable[ProductSales](TableProductSales, nil) },
	TableQualityIssues:        func() Table { return NewTable[Issue](TableQualityIssues, nil) },
}

// ErrUnknownRelation is returned for a name that is not a warehouse relation.
var ErrUnknownRelation = errors.New("unknown relation")

// Empty returns an empty table of the relation called name, ready to Fill.
func Empty(name string) (Table, error) {
	mk, ok := relations[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownRelation)
	}
	return mk(), nil
}

// RelationNames lists every warehouse relation in name order.
func RelationNames() []string {
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
