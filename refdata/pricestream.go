package refdata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/trading-executor/market"
)

// PriceStream reads a newline-delimited JSON price stream and writes the
// latest bid/ask of every instrument into the snapshot.
type PriceStream struct {
	URL    string
	Token  string
	HTTP   *http.Client
	Logger *slog.Logger

	snap *Snapshot
}

type priceStreamMsg struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Instrument string `json:"instrument"`

	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`

	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

func NewPriceStream(url, token string, snap *Snapshot, logger *slog.Logger) *PriceStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceStream{URL: url, Token: token, Logger: logger, snap: snap}
}

// Stream consumes the stream until ctx is done or the server hangs up.
// It returns the number of quotes applied.
func (p *PriceStream) Stream(ctx context.Context) (int, error) {
	if p.URL == "" {
		return 0, fmt.Errorf("price stream: missing url")
	}

	httpClient := p.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return 0, err
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return 0, fmt.Errorf("price stream http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	applied := 0
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var msg priceStreamMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return applied, fmt.Errorf("price stream: bad json: %w (line=%q)", err, trimForErr(line))
		}

		if strings.ToUpper(msg.Type) != "PRICE" {
			continue
		}
		ba, ok := p.toBidAsk(msg)
		if !ok {
			continue
		}
		p.snap.Quotes.Upsert(ba)
		applied++
	}

	if err := sc.Err(); err != nil {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}
		return applied, err
	}
	return applied, nil
}

// Run restarts Stream until ctx is cancelled.
func (p *PriceStream) Run(ctx context.Context) error {
	for {
		n, err := p.Stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Logger.Warn("price stream ended", "applied", n, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (p *PriceStream) toBidAsk(msg priceStreamMsg) (market.BidAsk, bool) {
	if msg.Instrument == "" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return market.BidAsk{}, false
	}
	inst, ok := p.snap.Instruments.Get(market.InstrumentPartition, msg.Instrument)
	if !ok {
		p.Logger.Debug("price for unknown instrument", "instrument", msg.Instrument)
		return market.BidAsk{}, false
	}

	bid, err := strconv.ParseFloat(msg.Bids[0].Price, 64)
	if err != nil {
		return market.BidAsk{}, false
	}
	ask, err := strconv.ParseFloat(msg.Asks[0].Price, 64)
	if err != nil {
		return market.BidAsk{}, false
	}

	ts := time.Now().UTC()
	if msg.Time != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			ts = t
		}
	}

	return market.BidAsk{
		ID:                  inst.ID,
		Base:                inst.Base,
		Quote:               inst.Quote,
		Bid:                 bid,
		Ask:                 ask,
		UnixTimestampMillis: ts.UnixMilli(),
	}, true
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
