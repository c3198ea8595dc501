package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/trading-executor/market"
)

// Table names used on the replication feed.
const (
	FeedInstruments     = "instruments"
	FeedTradingGroups   = "trading-groups"
	FeedTradingProfiles = "trading-profiles"
	FeedBidAsks         = "bid-ask-snapshot"
)

// Feed actions.
const (
	ActionInit   = "init"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

var ErrUnknownTable = errors.New("unknown feed table")

// FeedMessage is one frame of the replication feed. Init replaces the
// table, update upserts Data, delete removes the rows named in Keys.
type FeedMessage struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	Keys   []string        `json:"keys,omitempty"`
}

// Feed subscribes to a websocket replication endpoint and keeps the
// snapshot current. It reconnects until the context is cancelled.
type Feed struct {
	URL            string
	Header         http.Header
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *slog.Logger

	snap *Snapshot
}

func NewFeed(url string, snap *Snapshot, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		URL:            url,
		ReconnectDelay: 3 * time.Second,
		Dialer:         websocket.DefaultDialer,
		Logger:         logger,
		snap:           snap,
	}
}

// Run blocks until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.Logger.Warn("refdata feed disconnected", "url", f.URL, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.ReconnectDelay):
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, f.Header)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.Logger.Info("refdata feed connected", "url", f.URL)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.Logger.Warn("refdata feed bad frame", "error", err)
			continue
		}
		if err := f.snap.ApplyFeed(msg); err != nil {
			f.Logger.Warn("refdata feed frame rejected", "table", msg.Table, "action", msg.Action, "error", err)
		}
	}
}

// ApplyFeed applies one replication frame to the snapshot.
func (s *Snapshot) ApplyFeed(msg FeedMessage) error {
	switch msg.Table {
	case FeedInstruments:
		return applyFrame(s.Instruments, market.InstrumentPartition, msg)
	case FeedTradingGroups:
		return applyFrame(s.Groups, market.TradingGroupPartition, msg)
	case FeedTradingProfiles:
		return applyFrame(s.Profiles, market.TradingProfilePartition, msg)
	case FeedBidAsks:
		return applyFrame(s.Quotes, market.BidAskPartition, msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTable, msg.Table)
	}
}

func applyFrame[T Entity](t *Table[T], partition string, msg FeedMessage) error {
	switch msg.Action {
	case ActionDelete:
		for _, k := range msg.Keys {
			t.Delete(partition, k)
		}
		return nil
	case ActionInit, ActionUpdate:
		var items []T
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &items); err != nil {
				return fmt.Errorf("decode %s: %w", msg.Table, err)
			}
		}
		if msg.Action == ActionInit {
			t.Replace(items)
		} else {
			t.Upsert(items...)
		}
		return nil
	default:
		return fmt.Errorf("unknown feed action %q", msg.Action)
	}
}
