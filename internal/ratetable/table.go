package ratetable

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownAction = errors.New("unknown_action")
	ErrInvalidRate   = errors.New("invalid_rate")
)

// Rate is the token price of one metered action. FeatureKey names the
// entitlement that must be enabled for the workspace; empty means ungated.
type Rate struct {
	Action      string `mapstructure:"action" json:"action"`
	Cost        int64  `mapstructure:"cost" json:"cost"`
	Description string `mapstructure:"description" json:"description"`
	FeatureKey  string `mapstructure:"feature_key" json:"feature_key,omitempty"`
}

// Source resolves action costs.
type Source interface {
	Lookup(action string) (Rate, error)
	List() []Rate
}

func DefaultRates() []Rate {
	return []Rate{
		{Action: "ai.generate", Cost: 10, Description: "Generate a reply with the assistant", FeatureKey: "module.ai"},
		{Action: "ai.summarize", Cost: 5, Description: "Summarize a conversation thread", FeatureKey: "module.ai"},
		{Action: "document.parse", Cost: 8, Description: "Extract text from an uploaded document", FeatureKey: "module.documents"},
		{Action: "message.broadcast", Cost: 20, Description: "Send a broadcast to a contact segment", FeatureKey: "module.broadcast"},
		{Action: "message.send", Cost: 1, Description: "Send one outbound message"},
	}
}

// Table is an immutable action to rate mapping.
type Table struct {
	rates map[string]Rate
}

func NewTable(rates []Rate) (*Table, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: rate table cannot be empty", ErrInvalidRate)
	}
	out := make(map[string]Rate, len(rates))
	for _, rate := range rates {
		rate.Action = normalizeAction(rate.Action)
		rate.FeatureKey = strings.TrimSpace(rate.FeatureKey)
		if err := validateRate(rate); err != nil {
			return nil, err
		}
		if _, dup := out[rate.Action]; dup {
			return nil, fmt.Errorf("%w: duplicate action %q", ErrInvalidRate, rate.Action)
		}
		out[rate.Action] = rate
	}
	return &Table{rates: out}, nil
}

// MustDefault returns the compiled-in table.
func MustDefault() *Table {
	table, err := NewTable(DefaultRates())
	if err != nil {
		panic(err)
	}
	return table
}

func (t *Table) Lookup(action string) (Rate, error) {
	rate, ok := t.rates[normalizeAction(action)]
	if !ok {
		return Rate{}, ErrUnknownAction
	}
	return rate, nil
}

// List returns rates sorted by action.
func (t *Table) List() []Rate {
	out := make([]Rate, 0, len(t.rates))
	for _, rate := range t.rates {
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Merge overlays overrides on top of base by action.
func Merge(base, overrides []Rate) []Rate {
	index := make(map[string]int, len(base))
	out := make([]Rate, 0, len(base)+len(overrides))
	for _, rate := range base {
		index[normalizeAction(rate.Action)] = len(out)
		out = append(out, rate)
	}
	for _, rate := range overrides {
		key := normalizeAction(rate.Action)
		if i, ok := index[key]; ok {
			out[i] = rate
			continue
		}
		index[key] = len(out)
		out = append(out, rate)
	}
	return out
}

func validateRate(rate Rate) error {
	if rate.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidRate)
	}
	if rate.Cost <= 0 {
		return fmt.Errorf("%w: cost for %q must be positive", ErrInvalidRate, rate.Action)
	}
	return nil
}

func normalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
