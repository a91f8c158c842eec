package market

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TrendWindow is the rolling window the trends endpoint aggregates over.
const TrendWindow = 24 * time.Hour

// ItemTrend is the per-item aggregate served by the trends endpoint.
// AveragePrice carries two decimal places; gold amounts elsewhere stay
// integer.
type ItemTrend struct {
	ItemID       string          `json:"item_id"`
	Sales        int             `json:"sales"`
	Volume       int64           `json:"volume"` // units sold
	AveragePrice decimal.Decimal `json:"average_price"`
	Direction    string          `json:"direction"` // "up", "down", "flat"
}

// Trends aggregates resolution records over the rolling window into
// per-item average price, volume, and trend direction. Direction compares
// the average sale price of the window's older half to its newer half.
func (m *Market) Trends(ctx context.Context) ([]ItemTrend, error) {
	since := time.Now().UTC().Add(-TrendWindow)
	records, err := m.store.ResolutionsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	type agg struct {
		sales      int
		volume     int64
		sum        decimal.Decimal
		early      decimal.Decimal
		earlySales int
		late       decimal.Decimal
		lateSales  int
	}

	midpoint := since.Add(TrendWindow / 2)
	byItem := make(map[string]*agg)
	for _, r := range records {
		if r.WinningOrderID == "" {
			continue // expiries carry no price signal
		}
		a, ok := byItem[r.ItemID]
		if !ok {
			a = &agg{}
			byItem[r.ItemID] = a
		}
		price := decimal.NewFromInt(r.SalePrice)
		a.sales++
		a.volume += r.Quantity
		a.sum = a.sum.Add(price)
		if r.SoldAt.Before(midpoint) {
			a.early = a.early.Add(price)
			a.earlySales++
		} else {
			a.late = a.late.Add(price)
			a.lateSales++
		}
	}

	trends := make([]ItemTrend, 0, len(byItem))
	for itemID, a := range byItem {
		count := decimal.NewFromInt(int64(a.sales))
		trend := ItemTrend{
			ItemID:       itemID,
			Sales:        a.sales,
			Volume:       a.volume,
			AveragePrice: a.sum.Div(count).Round(2),
			Direction:    "flat",
		}
		if a.earlySales > 0 && a.lateSales > 0 {
			earlyAvg := a.early.Div(decimal.NewFromInt(int64(a.earlySales)))
			lateAvg := a.late.Div(decimal.NewFromInt(int64(a.lateSales)))
			switch {
			case lateAvg.GreaterThan(earlyAvg):
				trend.Direction = "up"
			case lateAvg.LessThan(earlyAvg):
				trend.Direction = "down"
			}
		}
		trends = append(trends, trend)
	}

	sort.Slice(trends, func(i, j int) bool { return trends[i].Volume > trends[j].Volume })
	return trends, nil
}
