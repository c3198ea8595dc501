package refdata

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/trading-executor/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableGetUpsertDelete(t *testing.T) {
	t.Parallel()
	tbl := NewTable[market.Instrument]()

	_, ok := tbl.Get(market.InstrumentPartition, "EURUSD")
	assert.False(t, ok)
	assert.False(t, tbl.Initialized())

	tbl.Upsert(market.Instrument{ID: "EURUSD", Base: "EUR", Quote: "USD"})
	got, ok := tbl.Get(market.InstrumentPartition, "EURUSD")
	require.True(t, ok)
	assert.Equal(t, "EUR", got.Base)
	assert.False(t, tbl.Initialized(), "upserts do not count as an initial image")

	tbl.Upsert(market.Instrument{ID: "EURUSD", Base: "EUR", Quote: "USD", Digits: 5})
	got, _ = tbl.Get(market.InstrumentPartition, "EURUSD")
	assert.Equal(t, 5, got.Digits)
	assert.Equal(t, 1, tbl.Len())

	tbl.Delete(market.InstrumentPartition, "EURUSD")
	tbl.Delete(market.InstrumentPartition, "EURUSD")
	tbl.Delete("nope", "x")
	assert.Zero(t, tbl.Len())
}

func TestTableReplaceAndSnapshotOrder(t *testing.T) {
	t.Parallel()
	tbl := NewTable[market.BidAsk]()
	tbl.Upsert(market.BidAsk{ID: "OLD"})

	tbl.Replace([]market.BidAsk{{ID: "GBPUSD"}, {ID: "EURUSD"}, {ID: "AUDUSD"}})
	assert.True(t, tbl.Initialized())
	assert.False(t, tbl.Updated().IsZero())

	ids := []string{}
	for _, q := range tbl.Snapshot() {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{"AUDUSD", "EURUSD", "GBPUSD"}, ids)
}

func TestSnapshotReader(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	snap := NewSnapshot()
	assert.False(t, snap.Ready())

	snap.Apply(&Seed{
		Instruments:     []market.Instrument{{ID: "EURUSD"}},
		TradingGroups:   []market.TradingGroup{{ID: "g", TradingProfileID: "p"}},
		TradingProfiles: []market.TradingProfile{{ID: "p"}},
		BidAsks:         []market.BidAsk{{ID: "EURUSD", Bid: 1, Ask: 2}},
	})
	assert.True(t, snap.Ready())

	_, ok := snap.Instrument(ctx, "EURUSD")
	assert.True(t, ok)
	g, ok := snap.TradingGroup(ctx, "g")
	require.True(t, ok)
	assert.Equal(t, "p", g.TradingProfileID)
	_, ok = snap.TradingProfile(ctx, "p")
	assert.True(t, ok)
	_, ok = snap.TradingProfile(ctx, "missing")
	assert.False(t, ok)
	assert.Len(t, snap.BidAsks(ctx), 1)

	stats := snap.Stats()
	assert.False(t, stats.QuotesUpdatedAt.IsZero())
	stats.QuotesUpdatedAt = time.Time{}
	assert.Equal(t, Stats{Instruments: 1, Groups: 1, Profiles: 1, BidAsks: 1, Ready: true}, stats)
}
