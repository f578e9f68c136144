// Package source reads raw per-entity extracts from a blob bucket.
package source

import (
	"errors"
)

// Entity names one raw extract.
type Entity string

const (
	EntityOrders              Entity = "orders"
	EntityCustomers           Entity = "customers"
	EntityOrderItems          Entity = "order_items"
	EntityProducts            Entity = "products"
	EntityCategoryTranslation Entity = "category_translation"
)

// Entities lists every extract in read order.
var Entities = []Entity{
	EntityOrders,
	EntityCustomers,
	EntityOrderItems,
	EntityProducts,
	EntityCategoryTranslation,
}

// DefaultObjects are the object keys of the public Olist extract.
var DefaultObjects = map[Entity]string{
	EntityOrders:              "olist_orders_dataset.csv",
	EntityCustomers:           "olist_customers_dataset.csv",
	EntityOrderItems:          "olist_order_items_dataset.csv",
	EntityProducts:            "olist_products_dataset.csv",
	EntityCategoryTranslation: "product_category_name_translation.csv",
}

var (
	// ErrMissingEntity is returned when an extract object does not exist.
	ErrMissingEntity = errors.New("raw extract missing")

	// ErrUnsupportedFormat is returned for object keys with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported extract format")
)

// RawTable is one decoded extract: a header row and string cells.
type RawTable struct {
	Entity Entity
	Header []string
	Rows   [][]string
}

// Snapshot is a complete set of raw extracts read in one pass.
type Snapshot struct {
	Tables map[Entity]*RawTable

	// Fingerprint identifies the snapshot's bytes.
	Fingerprint string
}

// Table returns the extract for e, or an empty table if it was not read.
func (s *Snapshot) Table(e Entity) *RawTable {
	if t, ok := s.Tables[e]; ok {
		return t
	}
	return &RawTable{Entity: e}
}
