package market

import "time"

// BidAsk is the latest quote for an asset pair as replicated from the
// price snapshot feed.
type BidAsk struct {
	ID                  string  `json:"id" yaml:"id"`
	Base                string  `json:"base" yaml:"base"`
	Quote               string  `json:"quote" yaml:"quote"`
	Bid                 float64 `json:"bid" yaml:"bid"`
	Ask                 float64 `json:"ask" yaml:"ask"`
	UnixTimestampMillis int64   `json:"unix_timestamp_with_millis" yaml:"unix_timestamp_with_millis"`
}

func (b BidAsk) PartitionKey() string { return BidAskPartition }
func (b BidAsk) RowKey() string       { return b.ID }

func (b BidAsk) Time() time.Time {
	return time.UnixMilli(b.UnixTimestampMillis).UTC()
}

// Pairs reports whether the quote joins the two currencies, in either direction.
func (b BidAsk) Pairs(c1, c2 string) bool {
	return (b.Base == c1 && b.Quote == c2) || (b.Base == c2 && b.Quote == c1)
}
