package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultAmount = "1000"

// canonicalAssets is the fixed vocabulary used for edit-distance recovery of
// near-miss symbols. Order matters: ties resolve to the earliest entry.
var canonicalAssets = []string{"BTC", "ETH", "SOL", "USDC", "USDT", "ARB", "DOGE", "BNB"}

// assetAliases folds wrapped tokens, full names and common misspellings to
// their canonical symbol.
var assetAliases = map[string]string{
	"WETH":     "ETH",
	"WBTC":     "BTC",
	"WSOL":     "SOL",
	"ETHEREUM": "ETH",
	"ETHER":    "ETH",
	"BITCOIN":  "BTC",
	"SOLANA":   "SOL",
	"TETHER":   "USDT",
	"DOGECOIN": "DOGE",
	"BITCOIM":  "BTC",
	"ETHERUM":  "ETH",
	"USDCE":    "USDC",
	"ARBITRUM": "ARB",
	"BINANCE":  "BNB",
}

// stablecoins have no native chain; bridge inference defaults them to ethereum.
var stablecoins = map[string]bool{"USDC": true, "USDT": true}

// assetNativeChain maps a canonical asset to the chain it is native to.
var assetNativeChain = map[string]string{
	"ETH":  "ethereum",
	"BTC":  "bitcoin",
	"SOL":  "solana",
	"ARB":  "arbitrum",
	"DOGE": "dogecoin",
	"BNB":  "bsc",
}

// chainAliases normalizes chain name shorthand.
var chainAliases = map[string]string{
	"eth":      "ethereum",
	"ethereum": "ethereum",
	"mainnet":  "ethereum",
	"sol":      "solana",
	"solana":   "solana",
	"arb":      "arbitrum",
	"arbitrum": "arbitrum",
	"op":       "optimism",
	"optimism": "optimism",
	"poly":     "polygon",
	"matic":    "polygon",
	"polygon":  "polygon",
	"base":     "base",
	"bsc":      "bsc",
	"bnb":      "bsc",
	"btc":      "bitcoin",
	"bitcoin":  "bitcoin",
	"doge":     "dogecoin",
	"dogecoin": "dogecoin",
}

var (
	suffixAmountPattern = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([kKmMbB])$`)
	nonAlnumPattern     = regexp.MustCompile(`[^A-Z0-9]`)
	currencySymbols     = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", "_", "")
)

// NormalizeAmount turns a human-entered amount into a positive finite decimal
// string. It supports thousands separators, k/m/b suffixes, currency symbols
// and scientific notation, and never fails: unparsable input yields "1000".
func NormalizeAmount(raw string) string {
	s := strings.TrimSpace(currencySymbols.Replace(raw))
	if s == "" {
		return defaultAmount
	}

	multiplier := decimal.NewFromInt(1)
	if m := suffixAmountPattern.FindStringSubmatch(s); m != nil {
		s = m[1]
		switch strings.ToLower(m[2]) {
		case "k":
			multiplier = decimal.NewFromInt(1000)
		case "m":
			multiplier = decimal.NewFromInt(1000000)
		case "b":
			multiplier = decimal.NewFromInt(1000000000)
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return defaultAmount
	}

	return d.Mul(multiplier).String()
}

// NormalizeAsset uppercases a symbol, strips non-alphanumerics, folds aliases
// and recovers near-misses (edit distance 1) against the canonical
// vocabulary. Unknown symbols pass through uppercased.
func NormalizeAsset(raw string) string {
	s := nonAlnumPattern.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw)), "")
	if s == "" {
		return ""
	}

	if canonical, ok := assetAliases[s]; ok {
		return canonical
	}
	for _, c := range canonicalAssets {
		if s == c {
			return s
		}
	}
	// Bounded-edit-distance fallback, first minimum wins.
	if len(s) >= 3 {
		for _, c := range canonicalAssets {
			if levenshtein(s, c) <= 1 {
				return c
			}
		}
	}
	return s
}

// NormalizeChain folds chain shorthand to a canonical chain name. Unknown
// names pass through lowercased.
func NormalizeChain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := chainAliases[s]; ok {
		return canonical
	}
	return s
}

// NativeChain returns the canonical chain an asset is native to. Stablecoins
// report ethereum, the documented default.
func NativeChain(asset string) string {
	a := NormalizeAsset(asset)
	if stablecoins[a] {
		return "ethereum"
	}
	if chain, ok := assetNativeChain[a]; ok {
		return chain
	}
	return ""
}

// ClampLeverage bounds leverage to [1, 100].
func ClampLeverage(lev float64) float64 {
	if lev < 1 {
		return 1
	}
	if lev > 100 {
		return 100
	}
	return lev
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
