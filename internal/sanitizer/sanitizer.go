// Package sanitizer neutralizes adversarial input before it reaches the
// intent parser. It never fails: every input yields a best-effort sanitized
// string plus warnings for anything that was stripped or flagged.
package sanitizer

import (
	"regexp"
	"strings"
)

// Result is the sanitizer output.
type Result struct {
	Sanitized string   `json:"sanitized"`
	Warnings  []string `json:"warnings,omitempty"`
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	jsURIPattern      = regexp.MustCompile(`(?i)javascript:\S*`)
	backtickPattern   = regexp.MustCompile("`[^`]*`")
	subshellPattern   = regexp.MustCompile(`\$\([^)]*\)`)
	semicolonCmd      = regexp.MustCompile(`;\s*[^;]*`)
	pipeCmdPattern    = regexp.MustCompile(`\|\s*[a-zA-Z/][^|]*`)
	andCmdPattern     = regexp.MustCompile(`&&\s*[^&]*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// injectionPhrases are flagged, not removed. Path policy downstream is the
// actual defense against instruction smuggling.
var injectionPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard previous",
	"new instructions:",
	"system:",
	"you are now",
}

// homoglyphs maps visually-confusable code points to their ASCII equivalent.
var homoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Greek
	'α': 'a', 'ο': 'o', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z',
	'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T',
	// Fullwidth forms
	'０': '0', '１': '1', '２': '2', '３': '3', '４': '4',
	'５': '5', '６': '6', '７': '7', '８': '8', '９': '9',
}

// Sanitize applies the full neutralization sequence in a fixed order and
// collects a warning for every rewrite it performs.
func Sanitize(text string) Result {
	warnings := []string{}
	out := text

	if stripped := stripInvisible(out); stripped != out {
		warnings = append(warnings, "removed zero-width or bidirectional control characters")
		out = stripped
	}

	if folded := foldHomoglyphs(out); folded != out {
		warnings = append(warnings, "replaced confusable unicode characters")
		out = folded
	}

	if cleaned := htmlTagPattern.ReplaceAllString(out, " "); cleaned != out {
		warnings = append(warnings, "removed html markup")
		out = cleaned
	}
	if cleaned := jsURIPattern.ReplaceAllString(out, " "); cleaned != out {
		warnings = append(warnings, "removed javascript uri")
		out = cleaned
	}

	if cleaned, hit := stripShellPatterns(out); hit {
		warnings = append(warnings, "removed shell metacharacter sequence")
		out = cleaned
	}

	out = strings.TrimSpace(whitespacePattern.ReplaceAllString(out, " "))

	lower := strings.ToLower(out)
	for _, phrase := range injectionPhrases {
		if strings.Contains(lower, phrase) {
			warnings = append(warnings, "possible prompt injection: "+phrase)
			break
		}
	}

	return Result{Sanitized: out, Warnings: warnings}
}

// stripInvisible removes zero-width characters, bidi overrides and BOMs.
func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 0x200B && r <= 0x200F: // zero-width space..RTL mark
		case r >= 0x202A && r <= 0x202E: // bidi embedding/override
		case r >= 0x2060 && r <= 0x2064: // word joiner, invisible operators
		case r == 0xFEFF: // BOM
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func foldHomoglyphs(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if mapped, ok := homoglyphs[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripShellPatterns(s string) (string, bool) {
	out := s
	hit := false
	for _, p := range []*regexp.Regexp{backtickPattern, subshellPattern, semicolonCmd, andCmdPattern, pipeCmdPattern} {
		if cleaned := p.ReplaceAllString(out, " "); cleaned != out {
			out = cleaned
			hit = true
		}
	}
	return out, hit
}
