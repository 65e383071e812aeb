// Package parser turns sanitized free text into a typed ParsedIntent.
//
// Parse is total: every input yields an intent, defaulting to
// kind=unknown/action=proof. Matching is first-match-wins over an explicit
// ordered matcher list; the order is part of the contract, because later
// matchers assume earlier ones already claimed their patterns.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type matcherFunc func(text, lower string) *ParsedIntent

type matcher struct {
	name string
	fn   matcherFunc
}

// matchers is the fixed evaluation sequence. Do not reorder without reading
// the package comment.
var matchers = []matcher{
	// 1. advanced multi-token strategies
	{"recurring_buy", matchRecurringBuy},
	{"leveraged_entry", matchLeveragedEntry},
	{"yield_search", matchYieldSearch},
	{"multi_step", matchMultiStep},
	// 2. portfolio hedge (needs external portfolio state, defers)
	{"portfolio_hedge", matchPortfolioHedge},
	// 3. prediction / event markets
	{"event_market", matchEventMarket},
	// 4. vault / yield discovery
	{"vault_discovery", matchVaultDiscovery},
	// 5. market creation
	{"market_creation", matchMarketCreation},
	// 6. baseline single-action patterns
	{"perp", matchPerp},
	{"swap", matchSwap},
	{"deposit", matchDeposit},
	{"bridge", matchBridge},
	// 8. keyword fallback
	{"keyword_fallback", matchKeywordFallback},
}

var (
	amountToken     = `\$?([0-9][0-9.,]*[kmbKMB]?|[0-9.]+e[0-9]+)`
	assetToken      = `([a-zA-Z]{2,10})`
	leveragePattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*x\b`)
	venuePattern    = regexp.MustCompile(`(?i)\bon\s+(hyperliquid|gmx|drift|uniswap|jupiter|aave|raydium|demo)\b`)
	amountPattern   = regexp.MustCompile(`(?i)` + amountToken)
	sideKeyword     = regexp.MustCompile(`(?i)\b(long|short)\b`)

	perpPattern       = regexp.MustCompile(`(?i)\b(long|short)\s+` + assetToken + `\b`)
	perpAmountPattern = regexp.MustCompile(`(?i)\bwith\s+` + amountToken)

	swapPattern    = regexp.MustCompile(`(?i)\b(?:swap|sell|convert)\s+` + amountToken + `\s+` + assetToken + `\s+(?:to|for|into)\s+` + assetToken + `\b`)
	buyPattern     = regexp.MustCompile(`(?i)\bbuy\s+` + amountToken + `\s+(?:of\s+|worth\s+of\s+)?` + assetToken + `(?:\s+with\s+` + assetToken + `)?`)
	depositPattern = regexp.MustCompile(`(?i)\b(deposit|supply|lend|stake)\s+` + amountToken + `\s+` + assetToken + `(?:\s+(?:in|into|to)\s+([a-zA-Z0-9]+))?`)
	bridgePattern  = regexp.MustCompile(`(?i)\bbridge\s+` + amountToken + `\s+` + assetToken + `(?:\s+from\s+([a-zA-Z]+))?(?:\s+to\s+([a-zA-Z]+))?`)

	eventKeywords = regexp.MustCompile(`(?i)\b(?:bet|wager|odds|prediction|predict|will\s+\w+\s+win)\b`)
	vaultKeywords = regexp.MustCompile(`(?i)\b(?:vault|earn\s+on|where\s+to\s+earn)\b`)
	hedgeKeywords = regexp.MustCompile(`(?i)\bhedge\b`)

	createMarketKeywords = regexp.MustCompile(`(?i)\b(?:create|launch|list)\b.*\b(?:market|perp|perpetual)\b`)
	createMarketAsset    = regexp.MustCompile(`(?i)\b(?:create|launch|list)\s+(?:a\s+)?(?:new\s+)?([a-zA-Z]{2,10})\s+(?:perp|perpetual|market)\b`)
	createMarketAssetFor = regexp.MustCompile(`(?i)\b(?:market|perp|perpetual)\s+for\s+([a-zA-Z]{2,10})\b`)
	maxLeveragePattern   = regexp.MustCompile(`(?i)\b(?:max\s+)?leverage\s+(?:of\s+)?(\d+)\b`)
	takerFeePattern      = regexp.MustCompile(`(?i)\b(?:taker\s+)?fee\s+(?:of\s+)?(\d+(?:\.\d+)?)\s*bps\b`)
	bondPattern          = regexp.MustCompile(`(?i)\bbond\s+(?:of\s+)?` + amountToken)
)

// Parse extracts a typed intent from text. It never fails.
func Parse(text string) *ParsedIntent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, m := range matchers {
		if intent := m.fn(trimmed, lower); intent != nil {
			finishIntent(intent, trimmed)
			return intent
		}
	}

	intent := &ParsedIntent{
		Kind:   KindUnknown,
		Action: "proof",
	}
	intent.setParam("notRecognized", true)
	finishIntent(intent, trimmed)
	return intent
}

// finishIntent applies extraction shared across all matchers: original text,
// venue keyword, leverage clamping.
func finishIntent(intent *ParsedIntent, text string) {
	intent.setParam("originalText", text)
	if intent.Venue == "" {
		if m := venuePattern.FindStringSubmatch(text); m != nil {
			intent.Venue = strings.ToLower(m[1])
		}
	}
	if intent.Leverage != 0 {
		intent.Leverage = ClampLeverage(intent.Leverage)
	}
}

// --- step 2: portfolio hedge ---

func matchPortfolioHedge(text, lower string) *ParsedIntent {
	if !hedgeKeywords.MatchString(text) {
		return nil
	}
	intent := &ParsedIntent{
		Kind:   KindUnknown,
		Action: "hedge",
	}
	// Hedging needs live portfolio state from a collaborator not yet wired.
	intent.setParam("requiresPortfolio", true)
	return intent
}

// --- step 3: prediction / event markets ---

func matchEventMarket(text, lower string) *ParsedIntent {
	if !eventKeywords.MatchString(text) {
		return nil
	}
	intent := &ParsedIntent{
		Kind:   KindEvent,
		Action: "event_bet",
	}
	if m := amountPattern.FindStringSubmatch(text); m != nil {
		intent.Amount = NormalizeAmount(m[1])
	}
	if strings.Contains(lower, " no ") || strings.HasSuffix(lower, " no") {
		intent.setParam("outcome", "no")
	} else {
		intent.setParam("outcome", "yes")
	}
	return intent
}

// --- step 4: vault / yield discovery ---

func matchVaultDiscovery(text, lower string) *ParsedIntent {
	if !vaultKeywords.MatchString(text) {
		return nil
	}
	intent := &ParsedIntent{
		Kind:   KindDeposit,
		Action: "vault_discovery",
	}
	if m := amountPattern.FindStringSubmatch(text); m != nil {
		intent.Amount = NormalizeAmount(m[1])
	}
	intent.setParam("requiresYieldRanking", true)
	return intent
}

// --- step 5: market creation ---

const (
	defaultMaxLeverage  = 20
	defaultTakerFeeBps  = 5
	bondFixedPointScale = 1_000_000
)

func matchMarketCreation(text, lower string) *ParsedIntent {
	if !createMarketKeywords.MatchString(text) {
		return nil
	}

	intent := &ParsedIntent{
		Kind:   KindPerpCreate,
		Action: "create_market",
	}

	if m := createMarketAsset.FindStringSubmatch(text); m != nil {
		intent.TargetAsset = NormalizeAsset(m[1])
	} else if m := createMarketAssetFor.FindStringSubmatch(text); m != nil {
		intent.TargetAsset = NormalizeAsset(m[1])
	}

	maxLev := float64(defaultMaxLeverage)
	if m := maxLeveragePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			maxLev = ClampLeverage(v)
		}
	}
	intent.setParam("maxLeverage", maxLev)

	feeBps := float64(defaultTakerFeeBps)
	if m := takerFeePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			feeBps = v
		}
	}
	intent.setParam("takerFeeBps", feeBps)

	if m := bondPattern.FindStringSubmatch(text); m != nil {
		bond, err := decimal.NewFromString(NormalizeAmount(m[1]))
		if err == nil {
			intent.setParam("bondFixed", bond.Mul(decimal.NewFromInt(bondFixedPointScale)).IntPart())
		}
	}
	return intent
}

// --- step 6: baseline single-action patterns ---

func matchPerp(text, lower string) *ParsedIntent {
	m := perpPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	intent := &ParsedIntent{
		Kind:        KindPerp,
		Action:      strings.ToLower(m[1]),
		TargetAsset: NormalizeAsset(m[2]),
	}
	if lev := leveragePattern.FindStringSubmatch(text); lev != nil {
		if v, err := strconv.ParseFloat(lev[1], 64); err == nil {
			intent.Leverage = ClampLeverage(v)
		}
	}
	if am := perpAmountPattern.FindStringSubmatch(text); am != nil {
		intent.Amount = NormalizeAmount(am[1])
	}
	return intent
}

func matchSwap(text, lower string) *ParsedIntent {
	if m := swapPattern.FindStringSubmatch(text); m != nil {
		return &ParsedIntent{
			Kind:        KindSwap,
			Action:      "swap",
			Amount:      NormalizeAmount(m[1]),
			AmountUnit:  NormalizeAsset(m[2]),
			TargetAsset: NormalizeAsset(m[3]),
		}
	}
	if m := buyPattern.FindStringSubmatch(text); m != nil {
		intent := &ParsedIntent{
			Kind:        KindSwap,
			Action:      "buy",
			Amount:      NormalizeAmount(m[1]),
			TargetAsset: NormalizeAsset(m[2]),
		}
		if m[3] != "" {
			intent.AmountUnit = NormalizeAsset(m[3])
		}
		return intent
	}
	return nil
}

func matchDeposit(text, lower string) *ParsedIntent {
	m := depositPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	intent := &ParsedIntent{
		Kind:       KindDeposit,
		Action:     strings.ToLower(m[1]),
		Amount:     NormalizeAmount(m[2]),
		AmountUnit: NormalizeAsset(m[3]),
	}
	if m[4] != "" {
		intent.Venue = strings.ToLower(m[4])
	}
	return intent
}

func matchBridge(text, lower string) *ParsedIntent {
	m := bridgePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	intent := &ParsedIntent{
		Kind:       KindBridge,
		Action:     "bridge",
		Amount:     NormalizeAmount(m[1]),
		AmountUnit: NormalizeAsset(m[2]),
	}
	if m[3] != "" {
		intent.SourceChain = NormalizeChain(m[3])
	}
	if m[4] != "" {
		intent.DestChain = NormalizeChain(m[4])
	}
	inferBridgeChains(intent)
	return intent
}

// inferBridgeChains fills a missing source chain from the asset's native
// chain (step 7). Same source and destination is a warning, not an error.
func inferBridgeChains(intent *ParsedIntent) {
	if intent.SourceChain == "" {
		if native := NativeChain(intent.AmountUnit); native != "" {
			intent.SourceChain = native
			intent.setParam("sourceChainInferred", true)
		}
	}
	if intent.SourceChain != "" && intent.SourceChain == intent.DestChain {
		intent.setParam("sameChainWarning", true)
	}
}

// --- step 8: keyword fallback ---

func matchKeywordFallback(text, lower string) *ParsedIntent {
	var intent *ParsedIntent

	switch {
	case sideKeyword.MatchString(text):
		side := strings.ToLower(sideKeyword.FindStringSubmatch(text)[1])
		intent = &ParsedIntent{Kind: KindPerp, Action: side}
	case venuePattern.MatchString(text):
		intent = &ParsedIntent{Kind: KindUnknown, Action: "proof"}
	default:
		return nil
	}

	if lev := leveragePattern.FindStringSubmatch(text); lev != nil {
		if v, err := strconv.ParseFloat(lev[1], 64); err == nil {
			intent.Leverage = ClampLeverage(v)
		}
	}
	intent.setParam("keywordInferred", true)
	return intent
}
