package refdata

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rustyeddy/trading-executor/market"
	"gopkg.in/yaml.v3"
)

// Seed is a static image of the reference tables. It is used to bootstrap
// the snapshot when no feed is configured, and by the demo and tests.
type Seed struct {
	Instruments     []market.Instrument     `json:"instruments" yaml:"instruments"`
	TradingGroups   []market.TradingGroup   `json:"trading_groups" yaml:"trading_groups"`
	TradingProfiles []market.TradingProfile `json:"trading_profiles" yaml:"trading_profiles"`
	BidAsks         []market.BidAsk         `json:"bid_asks" yaml:"bid_asks"`
}

// LoadSeed reads a seed file (YAML or JSON).
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	seed := &Seed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		if err := json.Unmarshal(data, seed); err != nil {
			return nil, fmt.Errorf("parse seed (tried YAML and JSON): %w", err)
		}
	}
	return seed, nil
}

// Apply replaces every table with the seed content.
func (s *Snapshot) Apply(seed *Seed) {
	s.Instruments.Replace(seed.Instruments)
	s.Groups.Replace(seed.TradingGroups)
	s.Profiles.Replace(seed.TradingProfiles)
	s.Quotes.Replace(seed.BidAsks)
}
