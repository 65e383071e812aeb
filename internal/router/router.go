// Package router turns a parsed intent into an execution decision: which
// chain, which venue, and whether the intent runs for real, as an on-chain
// proof, or purely off-chain. Routing is a pure function of the intent, the
// preferred chain and the configured capability table.
package router

import (
	"fmt"

	"intentflow/internal/common/config"
	"intentflow/internal/common/errors"
	"intentflow/internal/parser"
)

// ExecutionType selects how the executed intent touches the chain.
type ExecutionType string

const (
	// ExecutionReal submits the intent's actual transaction.
	ExecutionReal ExecutionType = "real"
	// ExecutionProofOnly submits a zero-value proof transaction carrying
	// the intent payload. Used when real execution is not wired or not
	// configured.
	ExecutionProofOnly ExecutionType = "proof_only"
	// ExecutionOffchain records the intent without touching any chain.
	ExecutionOffchain ExecutionType = "offchain"
)

// Decision is the routing result for one intent.
type Decision struct {
	Chain         string        `json:"chain"`
	Network       string        `json:"network"`
	Venue         string        `json:"venue,omitempty"`
	Adapter       string        `json:"adapter,omitempty"`
	ExecutionType ExecutionType `json:"executionType"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// RouteError is the single routing failure: an explicitly requested venue
// that no adapter implements. Everything else downgrades instead of failing.
type RouteError struct {
	Code    errors.ErrorCode
	Message string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// venueCapability describes one implemented venue: the chain it lives on and
// the intent kinds it can execute.
type venueCapability struct {
	chain string
	kinds map[parser.Kind]bool
}

// venueTable is the static capability table. A venue listed here still needs
// its adapter feature flag enabled and a signer on its chain before real
// execution is offered.
var venueTable = map[string]venueCapability{
	"hyperliquid": {chain: "arbitrum", kinds: kinds(parser.KindPerp, parser.KindPerpCreate)},
	"gmx":         {chain: "arbitrum", kinds: kinds(parser.KindPerp)},
	"drift":       {chain: "solana", kinds: kinds(parser.KindPerp)},
	"uniswap":     {chain: "ethereum", kinds: kinds(parser.KindSwap)},
	"jupiter":     {chain: "solana", kinds: kinds(parser.KindSwap)},
	"raydium":     {chain: "solana", kinds: kinds(parser.KindSwap)},
	"aave":        {chain: "ethereum", kinds: kinds(parser.KindDeposit)},
}

// perpCreationVenue hosts new market listings; market-creation intents are
// pinned to its chain regardless of the default.
const perpCreationVenue = "hyperliquid"

func kinds(ks ...parser.Kind) map[parser.Kind]bool {
	m := make(map[parser.Kind]bool, len(ks))
	for _, k := range ks {
		m[k] = true
	}
	return m
}

// Router resolves intents against the configured chains and adapter flags.
type Router struct {
	chains  map[string]config.ChainConfig
	routing config.RoutingConfig
}

// New creates a router over the configured chains and routing flags.
func New(chains map[string]config.ChainConfig, routing config.RoutingConfig) *Router {
	return &Router{chains: chains, routing: routing}
}

// Route decides chain, venue and execution type for a parsed intent.
// Chain precedence: explicit preference, then intent-kind hints, then the
// bridge source chain, then the configured default.
//
// The only failure is an explicitly requested venue with no adapter; every
// other gap downgrades the execution type and records a warning.
func (r *Router) Route(parsed *parser.ParsedIntent, preferredChain string) (*Decision, *RouteError) {
	chain := r.selectChain(parsed, preferredChain)
	decision := &Decision{
		Chain:   chain,
		Network: r.network(chain),
	}

	// Deferred intent classes never execute for real: the integrations
	// they need are not wired. They downgrade, never fail.
	switch {
	case parsed == nil || parsed.Kind == parser.KindUnknown:
		decision.ExecutionType = ExecutionProofOnly
		decision.Warnings = append(decision.Warnings, "intent not recognized, recording proof only")
		return decision, nil
	case parsed.Kind == parser.KindEvent:
		decision.ExecutionType = ExecutionOffchain
		decision.Warnings = append(decision.Warnings, "event market integration not wired, recording off-chain")
		return decision, nil
	case parsed.HasFlag("requiresPortfolio"):
		decision.ExecutionType = ExecutionProofOnly
		decision.Warnings = append(decision.Warnings, "hedging requires portfolio state, recording proof only")
		return decision, nil
	case parsed.HasFlag("requiresYieldRanking"):
		decision.ExecutionType = ExecutionOffchain
		decision.Warnings = append(decision.Warnings, "yield discovery is analytics only, recording off-chain")
		return decision, nil
	}

	venue, routeErr := r.selectVenue(parsed, chain)
	if routeErr != nil {
		return nil, routeErr
	}
	if venue != "" {
		decision.Venue = venue
		decision.Adapter = venue
		// The venue's home chain wins unless the caller pinned one.
		if preferredChain == "" && parsed.Kind != parser.KindBridge {
			decision.Chain = venueTable[venue].chain
			decision.Network = r.network(decision.Chain)
		}
	}

	decision.ExecutionType, decision.Warnings = r.executionType(parsed, decision.Chain, venue, decision.Warnings)
	return decision, nil
}

func (r *Router) selectChain(parsed *parser.ParsedIntent, preferredChain string) string {
	if preferredChain != "" {
		return parser.NormalizeChain(preferredChain)
	}
	if parsed != nil {
		if parsed.Kind == parser.KindPerpCreate {
			return venueTable[perpCreationVenue].chain
		}
		if parsed.Kind == parser.KindBridge && parsed.SourceChain != "" {
			return parsed.SourceChain
		}
	}
	return r.routing.DefaultChain
}

// selectVenue resolves the executing venue. An explicit venue must exist in
// the capability table and support the intent kind; that is the one routing
// error. Without an explicit venue the first capable venue on the selected
// chain is used, and none is fine.
func (r *Router) selectVenue(parsed *parser.ParsedIntent, chain string) (string, *RouteError) {
	if parsed.Venue != "" && parsed.Venue != "demo" {
		vc, ok := venueTable[parsed.Venue]
		if !ok || !vc.kinds[parsed.Kind] {
			return "", &RouteError{
				Code:    errors.ErrCodeVenueNotImplemented,
				Message: fmt.Sprintf("venue %q does not implement %s", parsed.Venue, parsed.Kind),
			}
		}
		return parsed.Venue, nil
	}
	if parsed.Kind == parser.KindPerpCreate {
		return perpCreationVenue, nil
	}

	for _, name := range venueOrder {
		vc := venueTable[name]
		if vc.chain == chain && vc.kinds[parsed.Kind] {
			return name, nil
		}
	}
	return "", nil
}

// venueOrder makes implicit venue selection deterministic.
var venueOrder = []string{"hyperliquid", "gmx", "uniswap", "aave", "jupiter", "raydium", "drift"}

// executionType applies the real-execution gate: signer configured on the
// chain, adapter flag enabled, and a capable venue resolved. Any missing
// piece downgrades to proof_only with a warning naming it.
func (r *Router) executionType(parsed *parser.ParsedIntent, chain, venue string, warnings []string) (ExecutionType, []string) {
	if venue == "" {
		return ExecutionProofOnly, append(warnings,
			fmt.Sprintf("no venue implements %s on %s, recording proof only", parsed.Kind, chain))
	}
	if !r.routing.Adapters[venue] {
		return ExecutionProofOnly, append(warnings,
			fmt.Sprintf("adapter %q not enabled, recording proof only", venue))
	}
	chainCfg, ok := r.chains[chain]
	if !ok || !chainCfg.Enabled {
		return ExecutionProofOnly, append(warnings,
			fmt.Sprintf("chain %q not configured, recording proof only", chain))
	}
	if !chainCfg.HasSigner() {
		return ExecutionProofOnly, append(warnings,
			fmt.Sprintf("no signer configured for chain %q, recording proof only", chain))
	}
	return ExecutionReal, warnings
}

func (r *Router) network(chain string) string {
	if cfg, ok := r.chains[chain]; ok && cfg.Network != "" {
		return cfg.Network
	}
	return "mainnet"
}
