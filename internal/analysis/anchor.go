package analysis

import "trade-setup-assistant/internal/cache"

// PriceAnchor is the current price handed to the model
type PriceAnchor struct {
	Price  float64 `json:"price"`
	Series string  `json:"series"`
	Time   int64   `json:"time"`
}

// ResolvePriceAnchor takes the close of the latest candle from whichever
// series has the most recent one. Nil when no series has candles.
func ResolvePriceAnchor(series []cache.Series) *PriceAnchor {
	var anchor *PriceAnchor
	for i := range series {
		last, ok := series[i].Last()
		if !ok {
			continue
		}
		if anchor == nil || last.Time > anchor.Time {
			anchor = &PriceAnchor{Price: last.Close, Series: series[i].Name, Time: last.Time}
		}
	}
	return anchor
}
