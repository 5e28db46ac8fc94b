// Package scoring implements the Scoring Engine (SPEC_FULL.md §4): a set of
// pure functions over already-recorded outcomes — the response-quality
// gate, per-burst/per-session tallying, the weighted autonomy analysis, and
// Finalize. None of it touches the network or a clock beyond what is passed
// in, matching the "Scoring Engine: pure functions" line in the component
// table.
package scoring

import (
	"regexp"
	"strings"

	"github.com/marcus-qen/agentverify/internal/challenge"
)

// GateResult is the outcome of the quality gate.
type GateResult struct {
	Pass   bool
	Reason string // empty when Pass is true
}

var denyList = map[string]bool{
	"x": true, "ok": true, "idk": true, "dunno": true, "n/a": true, "none": true, "-": true,
}

var stepOrDigitPattern = regexp.MustCompile(`(?i)\b(step|first|second|third|then|therefore|because)\b|\d`)
var hedgeWords = []string{"i think", "i believe", "likely", "probably", "may", "might", "not sure", "unclear", "uncertain"}

// QualityGate rejects trivially gamed answers even when the template
// validator would be permissive (SPEC_FULL.md §4.3). It runs before the
// validator so a rejection is always attributable to exactly one of the two.
func QualityGate(category challenge.Category, groundTruthExists bool, responseText string) GateResult {
	trimmed := strings.TrimSpace(responseText)
	lower := strings.ToLower(trimmed)

	if denyList[lower] {
		return GateResult{Pass: false, Reason: "non_answer"}
	}

	words := strings.Fields(trimmed)
	if len(words) < 5 {
		return GateResult{Pass: false, Reason: "too_short"}
	}

	if ratio := alphabeticRatio(trimmed); ratio < 0.5 {
		return GateResult{Pass: false, Reason: "low_alphabetic_ratio"}
	}

	if ratio := uniqueWordRatio(words); ratio < 0.3 {
		return GateResult{Pass: false, Reason: "low_unique_word_ratio"}
	}

	switch category {
	case challenge.CategoryReasoningTrace:
		if !stepOrDigitPattern.MatchString(trimmed) {
			return GateResult{Pass: false, Reason: "no_reasoning_trace"}
		}
	case challenge.CategoryHallucinationDetection:
		if !groundTruthExists && assertsWithoutHedging(lower) {
			return GateResult{Pass: false, Reason: "unhedged_assertion"}
		}
	}

	return GateResult{Pass: true}
}

func alphabeticRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	alpha := 0
	total := 0
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		total++
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alpha++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alpha) / float64(total)
}

func uniqueWordRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = true
	}
	return float64(len(seen)) / float64(len(words))
}

func assertsWithoutHedging(lower string) bool {
	for _, h := range hedgeWords {
		if strings.Contains(lower, h) {
			return false
		}
	}
	return true
}
