// Package staging persists cleansed rows into the natural-keyed staging
// relations.
package staging

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/cleanse"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// Tables lists the staging relations in write order.
var Tables = []string{
	warehouse.TableStagedOrders,
	warehouse.TableStagedCustomers,
	warehouse.TableCustomerAccounts,
	warehouse.TableStagedOrderItems,
	warehouse.TableStagedProducts,
	warehouse.TableCategoryTranslations,
}

// Stage fully replaces every staging relation with the cleansed rows in one
// store call. It computes nothing, so re-staging the same input is a no-op
// for readers.
func Stage(ctx context.Context, store warehouse.Store, res *cleanse.Result) ([]warehouse.Table, error) {
	tables := []warehouse.Table{
		warehouse.NewTable(warehouse.TableStagedOrders, res.Orders),
		warehouse.NewTable(warehouse.TableStagedCustomers, res.Customers),
		warehouse.NewTable(warehouse.TableCustomerAccounts, res.Accounts),
		warehouse.NewTable(warehouse.TableStagedOrderItems, res.OrderItems),
		warehouse.NewTable(warehouse.TableStagedProducts, res.Products),
		warehouse.NewTable(warehouse.TableCategoryTranslations, res.Translations),
	}
	if err := store.Replace(ctx, tables...); err != nil {
		return nil, fmt.Errorf("replace staging: %w", err)
	}
	return tables, nil
}

// Snapshot is the staged data as read back from the store.
type Snapshot struct {
	Orders       []warehouse.StagedOrder
	Customers    []warehouse.StagedCustomer
	Accounts     []warehouse.CustomerAccount
	OrderItems   []warehouse.StagedOrderItem
	Products     []warehouse.StagedProduct
	Translations []warehouse.CategoryTranslation
}

// Load reads every staging relation. A relation that was never staged is a
// structural failure.
func Load(ctx context.Context, store warehouse.Store) (*Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	if s.Orders, err = warehouse.Load[warehouse.StagedOrder](ctx, store, warehouse.TableStagedOrders); err != nil {
		return nil, err
	}
	if s.Customers, err = warehouse.Load[warehouse.StagedCustomer](ctx, store, warehouse.TableStagedCustomers); err != nil {
		return nil, err
	}
	if s.Accounts, err = warehouse.Load[warehouse.CustomerAccount](ctx, store, warehouse.TableCustomerAccounts); err != nil {
		return nil, err
	}
	if s.OrderItems, err = warehouse.Load[warehouse.StagedOrderItem](ctx, store, warehouse.TableStagedOrderItems); err != nil {
		return nil, err
	}
	if s.Products, err = warehouse.Load[warehouse.StagedProduct](ctx, store, warehouse.TableStagedProducts); err != nil {
		return nil, err
	}
	if s.Translations, err = warehouse.Load[warehouse.CategoryTranslation](ctx, store, warehouse.TableCategoryTranslations); err != nil {
		return nil, err
	}
	return &s, nil
}
