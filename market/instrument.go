package market

// Partition keys used by the replicated reference snapshot.
const (
	InstrumentPartition     = "i"
	TradingGroupPartition   = "tg"
	TradingProfilePartition = "tp"
	BidAskPartition         = "ba"
)

// DayOff is a recurring blackout window. Day codes use the venue convention:
// 0 is Sunday, 1..6 are Monday..Saturday. Times are "HH:MM:SS" UTC.
type DayOff struct {
	DowFrom  int    `json:"dow_from" yaml:"dow_from"`
	TimeFrom string `json:"time_from" yaml:"time_from"`
	DowTo    int    `json:"dow_to" yaml:"dow_to"`
	TimeTo   string `json:"time_to" yaml:"time_to"`
}

type Instrument struct {
	ID      string   `json:"id" yaml:"id"`
	Base    string   `json:"base" yaml:"base"`
	Quote   string   `json:"quote" yaml:"quote"`
	Digits  int      `json:"digits" yaml:"digits"`
	DaysOff []DayOff `json:"days_off,omitempty" yaml:"days_off,omitempty"`

	// Maximum quote age in seconds. Nil means not configured.
	DayTimeout   *int64 `json:"day_timeout,omitempty" yaml:"day_timeout,omitempty"`
	NightTimeout *int64 `json:"night_timeout,omitempty" yaml:"night_timeout,omitempty"`
}

func (i Instrument) PartitionKey() string { return InstrumentPartition }
func (i Instrument) RowKey() string       { return i.ID }

// Seconds is a helper for filling the optional timeout fields.
func Seconds(s int64) *int64 {
	return &s
}
