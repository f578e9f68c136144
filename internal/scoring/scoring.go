package scoring

import (
	"context"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/mart"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// LoadInputs reads the committed dimensions and facts.
func LoadInputs(ctx context.Context, store warehouse.Store) (*Inputs, error) {
	var (
		in  Inputs
		err error
	)
	if in.Customers, err = warehouse.Load[warehouse.DimCustomer](ctx, store, warehouse.TableDimCustomers); err != nil {
		return nil, err
	}
	if in.Products, err = warehouse.Load[warehouse.DimProduct](ctx, store, warehouse.TableDimProducts); err != nil {
		return nil, err
	}
	if in.Calendar, err = warehouse.Load[warehouse.DimDate](ctx, store, warehouse.TableDimDate); err != nil {
		return nil, err
	}
	if in.Sales, err = warehouse.Load[warehouse.FactSales](ctx, store, warehouse.TableFactSales); err != nil {
		return nil, err
	}
	if in.Items, err = warehouse.Load[warehouse.FactOrderItem](ctx, store, warehouse.TableFactOrderItems); err != nil {
		return nil, err
	}
	return &in, nil
}

// Builds returns one mart build per scoring and roll-up relation.
func Builds(in *Inputs, opts Options) []mart.Build {
	return []mart.Build{
		mart.Of(warehouse.TableCustomerRFM, func() ([]warehouse.CustomerRFM, error) {
			return RFM(in, opts)
		}),
		mart.Of(warehouse.TableCustomerRisk, func() ([]warehouse.CustomerRisk, error) {
			return Risk(in.Customers, opts), nil
		}),
		mart.Of(warehouse.TableMonthlyRevenue, func() ([]warehouse.MonthlyRevenue, error) {
			return MonthlyRevenue(in)
		}),
		mart.Of(warehouse.TableProductPerformance, func() ([]warehouse.ProductPerformance, error) {
			return ProductPerformance(in)
		}),
		mart.Of(warehouse.TableMonthlySales, func() ([]warehouse.MonthlySales, error) {
			return MonthlySales(in, opts)
		}),
		mart.Of(warehouse.TableProductSales, func() ([]warehouse.ProductSales, error) {
			return ProductSales(in)
		}),
	}
}
