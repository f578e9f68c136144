package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/withObsrvr/obsrvr-order-warehouse/internal/money"
	"github.com/withObsrvr/obsrvr-order-warehouse/internal/warehouse"
)

// NumBands is the number of quantile bands per dimension.
const NumBands = 5

// Inputs is the dimensional model the scores are computed from.
type Inputs struct {
	Customers []warehouse.DimCustomer
	Products  []warehouse.DimProduct
	Calendar  []warehouse.DimDate
	Sales     []warehouse.FactSales
	Items     []warehouse.FactOrderItem
}

// Options parameterize scoring.
type Options struct {
	ReferenceDate      time.Time
	QualifyingStatuses warehouse.StatusSet
}

type rfmRaw struct {
	sk       int64
	uid      string
	recency  int64
	orders   int64
	monetary money.Sum
}

// RFM scores every customer with at least one qualifying order. Order dates
// are resolved through dim_date. Rows are ordered by customer_sk.
func RFM(in *Inputs, opts Options) ([]warehouse.CustomerRFM, error) {
	days := make(map[int32]time.Time, len(in.Calendar))
	for _, d := range in.Calendar {
		days[d.DateSK] = d.Date
	}
	uids := make(map[int64]string, len(in.Customers))
	for _, c := range in.Customers {
		uids[c.CustomerSK] = c.CustomerUniqueID
	}

	ref := warehouse.Day(opts.ReferenceDate)
	last := make(map[int64]time.Time)
	raws := make(map[int64]*rfmRaw)
	for _, s := range in.Sales {
		if !opts.QualifyingStatuses[s.OrderStatus] {
			continue
		}
		uid, ok := uids[s.CustomerSK]
		if !ok {
			return nil, fmt.Errorf("sale %s: customer_sk %d not in %s", s.OrderID, s.CustomerSK, warehouse.TableDimCustomers)
		}
		date, ok := days[s.OrderDateSK]
		if !ok {
			return nil, fmt.Errorf("sale %s: date_sk %d not in %s", s.OrderID, s.OrderDateSK, warehouse.TableDimDate)
		}
		r, ok := raws[s.CustomerSK]
		if !ok {
			r = &rfmRaw{sk: s.CustomerSK, uid: uid}
			raws[s.CustomerSK] = r
		}
		r.orders++
		r.monetary.Add(s.TotalOrderValue)
		if date.After(last[s.CustomerSK]) {
			last[s.CustomerSK] = date
		}
	}

	pop := make([]*rfmRaw, 0, len(raws))
	for sk, r := range raws {
		r.recency = warehouse.ElapsedDays(last[sk], ref)
		pop = append(pop, r)
	}

	rBand := Band(pop, func(a, b *rfmRaw) bool { return a.recency < b.recency }, uidOf)
	fBand := Band(pop, func(a, b *rfmRaw) bool { return a.orders > b.orders }, uidOf)
	mBand := Band(pop, func(a, b *rfmRaw) bool { return a.monetary.Decimal().GreaterThan(b.monetary.Decimal()) }, uidOf)

	out := make([]warehouse.CustomerRFM, 0, len(pop))
	for _, r := range pop {
		b := Bands{R: rBand[r], F: fBand[r], M: mBand[r]}
		out = append(out, warehouse.CustomerRFM{
			CustomerSK:       r.sk,
			CustomerUniqueID: r.uid,
			RecencyDays:      r.recency,
			FrequencyCount:   r.orders,
			MonetaryValue:    r.monetary.Float(),
			RScore:           b.R,
			FScore:           b.F,
			MScore:           b.M,
			RFMScore:         fmt.Sprintf("%d%d%d", b.R, b.F, b.M),
			Segment:          Segment(b),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerSK < out[j].CustomerSK })
	return out, nil
}

func uidOf(r *rfmRaw) string { return r.uid }

// Band ranks pop best first by better, breaking ties by key ascending, and
// splits the ranking into NumBands groups of equal size with the remainder
// going to the earliest groups. The first group gets band NumBands, the last
// band 1. With fewer members than bands only the top bands are used.
func Band[T comparable](pop []T, better func(a, b T) bool, key func(T) string) map[T]int32 {
	ranked := append([]T(nil), pop...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if better(a, b) {
			return true
		}
		if better(b, a) {
			return false
		}
		return key(a) < key(b)
	})

	bands := make(map[T]int32, len(ranked))
	size, rem := len(ranked)/NumBands, len(ranked)%NumBands
	pos := 0
	for g := 0; g < NumBands; g++ {
		n := size
		if g < rem {
			n++
		}
		for _, member := range ranked[pos : pos+n] {
			bands[member] = int32(NumBands - g)
		}
		pos += n
	}
	return bands
}
