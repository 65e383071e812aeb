package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Advanced multi-token strategies are matched before the baseline patterns
// because their keyword surface ("every day for", "10x leverage ... stop")
// would otherwise be partially claimed by the simpler single-action matchers.

var (
	recurringPattern = regexp.MustCompile(`(?i)\b(?:buy|dca(?:\s+into)?)\s+(?:\$?([0-9][0-9.,]*[kmb]?)\s+)?(?:([a-z]{2,10})\s+(?:of|worth\s+of)\s+)?([a-z]{2,10})\b.*\bevery\s+(hour|day|week|month)(?:\s+for\s+(\d+)\s+(?:hours|days|weeks|months))?`)
	leveragedEntry   = regexp.MustCompile(`(?i)\b(long|short|enter)\s+([a-z]{2,10})\b.*?\b(\d+(?:\.\d+)?)\s*x\s*(?:leverage)?\b.*\b(?:stop(?:\s*loss)?|sl)\s*(?:at|@|:)?\s*\$?([0-9][0-9.,]*[kmb]?)`)
	targetPattern    = regexp.MustCompile(`(?i)\b(?:target|take\s*profit|tp)\s*(?:at|@|:)?\s*\$?([0-9][0-9.,]*[kmb]?)`)
	yieldSearch      = regexp.MustCompile(`(?i)\b(?:find|search|best|highest|top)\b.*\b(?:yield|apy|apr)\b.*?\b(?:for|with|on)?\s*\$?([0-9][0-9.,]*[kmb]?)?\s*([a-z]{2,10})?`)
	multiStepSplit   = regexp.MustCompile(`(?i)\s*(?:,?\s+then\s+|;\s*|\bafter\s+that\s+)`)
	numberedStep     = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
)

// matchRecurringBuy handles dollar-cost-average phrasing such as
// "buy 100 usdc of eth every day for 30 days".
func matchRecurringBuy(text, lower string) *ParsedIntent {
	m := recurringPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	intent := &ParsedIntent{
		Kind:        KindSwap,
		Action:      "recurring_buy",
		TargetAsset: NormalizeAsset(m[3]),
	}
	if m[1] != "" {
		intent.Amount = NormalizeAmount(m[1])
		intent.AmountUnit = "USDC" // spend denominated in USDC unless stated
	}
	if m[2] != "" {
		intent.AmountUnit = NormalizeAsset(m[2])
	}
	intent.setParam("strategy", "recurring_buy")
	intent.setParam("interval", strings.ToLower(m[4]))
	if m[5] != "" {
		if n, err := strconv.Atoi(m[5]); err == nil {
			intent.setParam("occurrences", n)
		}
	}
	return intent
}

// matchLeveragedEntry handles leveraged entries that carry an explicit stop,
// optionally with a take-profit target.
func matchLeveragedEntry(text, lower string) *ParsedIntent {
	m := leveragedEntry.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	side := strings.ToLower(m[1])
	if side == "enter" {
		side = "long"
	}
	lev, _ := strconv.ParseFloat(m[3], 64)

	intent := &ParsedIntent{
		Kind:        KindPerp,
		Action:      side,
		TargetAsset: NormalizeAsset(m[2]),
		Leverage:    ClampLeverage(lev),
	}
	intent.setParam("strategy", "leveraged_entry")
	intent.setParam("stopLoss", NormalizeAmount(m[4]))
	if t := targetPattern.FindStringSubmatch(text); t != nil {
		intent.setParam("takeProfit", NormalizeAmount(t[1]))
	}
	return intent
}

// matchYieldSearch handles "find the best yield for 10k usdc" style requests.
func matchYieldSearch(text, lower string) *ParsedIntent {
	if !strings.Contains(lower, "yield") && !strings.Contains(lower, "apy") && !strings.Contains(lower, "apr") {
		return nil
	}
	m := yieldSearch.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	intent := &ParsedIntent{
		Kind:   KindDeposit,
		Action: "yield_search",
	}
	if m[1] != "" {
		intent.Amount = NormalizeAmount(m[1])
	}
	if m[2] != "" {
		intent.AmountUnit = NormalizeAsset(m[2])
	}
	intent.setParam("strategy", "yield_search")
	intent.setParam("requiresYieldRanking", true)
	return intent
}

// matchMultiStep recognizes sequenced plans ("swap ... then bridge ...",
// numbered lists). The plan is captured, not executed; each step keeps its
// raw text for a later planning pass.
func matchMultiStep(text, lower string) *ParsedIntent {
	var steps []string
	if numberedStep.MatchString(text) {
		for _, line := range strings.Split(text, "\n") {
			line = numberedStep.ReplaceAllString(line, "")
			if s := strings.TrimSpace(line); s != "" {
				steps = append(steps, s)
			}
		}
	} else if parts := multiStepSplit.Split(text, -1); len(parts) > 1 {
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				steps = append(steps, s)
			}
		}
	}

	if len(steps) < 2 {
		return nil
	}

	intent := &ParsedIntent{
		Kind:   KindUnknown,
		Action: "plan",
	}
	intent.setParam("strategy", "multi_step")
	intent.setParam("steps", steps)
	return intent
}
