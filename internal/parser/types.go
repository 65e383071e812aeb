package parser

// Kind tags the intent variant extracted from free text.
type Kind string

const (
	KindPerp       Kind = "perp"
	KindPerpCreate Kind = "perp_create"
	KindDeposit    Kind = "deposit"
	KindSwap       Kind = "swap"
	KindBridge     Kind = "bridge"
	KindEvent      Kind = "event"
	KindUnknown    Kind = "unknown"
)

// ParsedIntent is the typed command produced by Parse. Kind is always set.
// Amount, when present, is a positive finite decimal string. Leverage, when
// present, is clamped to [1, 100].
type ParsedIntent struct {
	Kind        Kind                   `json:"kind"`
	Action      string                 `json:"action"`
	Amount      string                 `json:"amount,omitempty"`
	AmountUnit  string                 `json:"amountUnit,omitempty"`
	TargetAsset string                 `json:"targetAsset,omitempty"`
	Leverage    float64                `json:"leverage,omitempty"`
	SourceChain string                 `json:"sourceChain,omitempty"`
	DestChain   string                 `json:"destChain,omitempty"`
	Venue       string                 `json:"venue,omitempty"`
	// Params is the opaque extraction bag. It always carries the original
	// text under "originalText" and any inferred flags.
	Params map[string]interface{} `json:"params,omitempty"`
}

// Param reads a raw extraction parameter, nil when absent.
func (p *ParsedIntent) Param(key string) interface{} {
	if p.Params == nil {
		return nil
	}
	return p.Params[key]
}

// HasFlag reports whether a boolean extraction flag is set.
func (p *ParsedIntent) HasFlag(key string) bool {
	v, ok := p.Params[key].(bool)
	return ok && v
}

func (p *ParsedIntent) setParam(key string, val interface{}) {
	if p.Params == nil {
		p.Params = map[string]interface{}{}
	}
	p.Params[key] = val
}
