package refdata

import (
	"context"
	"time"

	"github.com/rustyeddy/trading-executor/market"
)

// Reader is the point-in-time lookup the executor needs. A missing entity
// is reported as ok == false, never as an error: the snapshot is eventually
// consistent and may simply not have caught up yet.
type Reader interface {
	Instrument(ctx context.Context, id string) (market.Instrument, bool)
	TradingGroup(ctx context.Context, id string) (market.TradingGroup, bool)
	TradingProfile(ctx context.Context, id string) (market.TradingProfile, bool)
	BidAsks(ctx context.Context) []market.BidAsk
}

// Snapshot is the in-process replica of all reference tables.
type Snapshot struct {
	Instruments *Table[market.Instrument]
	Groups      *Table[market.TradingGroup]
	Profiles    *Table[market.TradingProfile]
	Quotes      *Table[market.BidAsk]
}

var _ Reader = (*Snapshot)(nil)

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Instruments: NewTable[market.Instrument](),
		Groups:      NewTable[market.TradingGroup](),
		Profiles:    NewTable[market.TradingProfile](),
		Quotes:      NewTable[market.BidAsk](),
	}
}

func (s *Snapshot) Instrument(_ context.Context, id string) (market.Instrument, bool) {
	return s.Instruments.Get(market.InstrumentPartition, id)
}

func (s *Snapshot) TradingGroup(_ context.Context, id string) (market.TradingGroup, bool) {
	return s.Groups.Get(market.TradingGroupPartition, id)
}

func (s *Snapshot) TradingProfile(_ context.Context, id string) (market.TradingProfile, bool) {
	return s.Profiles.Get(market.TradingProfilePartition, id)
}

func (s *Snapshot) BidAsks(_ context.Context) []market.BidAsk {
	return s.Quotes.Snapshot()
}

// Ready reports whether every table has received its initial image.
func (s *Snapshot) Ready() bool {
	return s.Instruments.Initialized() &&
		s.Groups.Initialized() &&
		s.Profiles.Initialized() &&
		s.Quotes.Initialized()
}

// Stats is used by the admin endpoint.
type Stats struct {
	Instruments     int       `json:"instruments"`
	Groups          int       `json:"trading_groups"`
	Profiles        int       `json:"trading_profiles"`
	BidAsks         int       `json:"bid_asks"`
	Ready           bool      `json:"ready"`
	QuotesUpdatedAt time.Time `json:"quotes_updated_at"`
}

func (s *Snapshot) Stats() Stats {
	return Stats{
		Instruments: s.Instruments.Len(),
		Groups:      s.Groups.Len(),
		Profiles:    s.Profiles.Len(),
		BidAsks:     s.Quotes.Len(),
		Ready:       s.Ready(),

		QuotesUpdatedAt: s.Quotes.Updated(),
	}
}
