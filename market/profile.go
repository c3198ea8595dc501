package market

import "slices"

type TradingGroup struct {
	ID               string `json:"id" yaml:"id"`
	TradingProfileID string `json:"trading_profile_id" yaml:"trading_profile_id"`
}

func (g TradingGroup) PartitionKey() string { return TradingGroupPartition }
func (g TradingGroup) RowKey() string       { return g.ID }

// ProfileInstrument is the per-instrument policy of a trading profile.
type ProfileInstrument struct {
	ID                     string  `json:"id" yaml:"id"`
	Leverages              []int32 `json:"leverages" yaml:"leverages"`
	OpenPositionMinDelayMs int32   `json:"open_position_min_delay_ms" yaml:"open_position_min_delay_ms"`
	OpenPositionMaxDelayMs int32   `json:"open_position_max_delay_ms" yaml:"open_position_max_delay_ms"`
	ToppingUpPercent       float64 `json:"topping_up_percent" yaml:"topping_up_percent"`
}

// AllowsLeverage reports whether leverage is one of the discrete multipliers.
func (pi ProfileInstrument) AllowsLeverage(leverage int32) bool {
	return slices.Contains(pi.Leverages, leverage)
}

type TradingProfile struct {
	ID             string              `json:"id" yaml:"id"`
	IsABook        bool                `json:"is_a_book" yaml:"is_a_book"`
	StopOutPercent float64             `json:"stop_out_percent" yaml:"stop_out_percent"`
	Instruments    []ProfileInstrument `json:"instruments" yaml:"instruments"`
}

func (p TradingProfile) PartitionKey() string { return TradingProfilePartition }
func (p TradingProfile) RowKey() string       { return p.ID }

// Instrument returns the profile policy for the asset pair.
func (p TradingProfile) Instrument(assetPair string) (ProfileInstrument, bool) {
	for _, pi := range p.Instruments {
		if pi.ID == assetPair {
			return pi, true
		}
	}
	return ProfileInstrument{}, false
}
