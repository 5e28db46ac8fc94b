// Package fingerprint defines the two external model-detection
// collaborators named in SPEC_FULL.md §10.6: model fingerprinting and
// personality profiling. Both are small interfaces with a deterministic
// local stub implementation; a real deployment swaps in an HTTP-based
// classifier client behind the same interface.
package fingerprint

import (
	"context"
	"sort"
	"strings"
)

// Fingerprinter detects which underlying model likely produced a set of
// passing gauntlet responses.
type Fingerprinter interface {
	DetectModel(ctx context.Context, responses []string) (model string, confidence float64, err error)
}

// PersonalityProfiler derives an opaque behavioral fingerprint from the
// same responses. The core never interprets the result; it is stored
// verbatim as a parsed_data-style JSON blob.
type PersonalityProfiler interface {
	Profile(ctx context.Context, responses []string) (profile string, err error)
}

// LexicalStub is a deterministic, local Fingerprinter. It has no access
// to a real classifier; it scores two lexical tells (mean words per
// response and hedge-word density) against
// canned per-family fingerprints and returns the closest match. It
// exists so the rest of the system has a concrete collaborator to call
// without depending on an external network service.
type LexicalStub struct {
	families []family
}

type family struct {
	name          string
	meanWordsHint float64
	hedgeHint     float64
}

// NewLexicalStub builds a Fingerprinter with a small fixed set of model
// families to score against.
func NewLexicalStub() *LexicalStub {
	return &LexicalStub{
		families: []family{
			{name: "gpt-family", meanWordsHint: 28, hedgeHint: 0.015},
			{name: "claude-family", meanWordsHint: 34, hedgeHint: 0.035},
			{name: "llama-family", meanWordsHint: 22, hedgeHint: 0.008},
			{name: "unknown", meanWordsHint: 0, hedgeHint: 0},
		},
	}
}

func (l *LexicalStub) DetectModel(_ context.Context, responses []string) (string, float64, error) {
	if len(responses) == 0 {
		return "unknown", 0, nil
	}

	meanWords := meanWordCount(responses)
	hedgeDensity := hedgeWordDensity(responses)

	type scored struct {
		name  string
		delta float64
	}
	var candidates []scored
	for _, f := range l.families {
		if f.name == "unknown" {
			continue
		}
		delta := absFloat(meanWords-f.meanWordsHint)/maxFloat(f.meanWordsHint, 1) +
			absFloat(hedgeDensity-f.hedgeHint)/maxFloat(f.hedgeHint, 0.01)
		candidates = append(candidates, scored{name: f.name, delta: delta})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].delta < candidates[j].delta })

	best := candidates[0]
	confidence := 1 / (1 + best.delta)
	return best.name, confidence, nil
}

// AveragingProfiler is a deterministic, local PersonalityProfiler. It
// summarizes surface-level tone signals (verbosity and hedging)
// into a small opaque tag string; callers must not parse it beyond
// storing it.
type AveragingProfiler struct{}

// NewAveragingProfiler builds a PersonalityProfiler backed by local
// lexical heuristics only.
func NewAveragingProfiler() *AveragingProfiler { return &AveragingProfiler{} }

func (p *AveragingProfiler) Profile(_ context.Context, responses []string) (string, error) {
	if len(responses) == 0 {
		return `{"tone":"unknown","verbosity":"unknown","hedging":"unknown"}`, nil
	}

	meanWords := meanWordCount(responses)
	hedgeDensity := hedgeWordDensity(responses)

	verbosity := "terse"
	switch {
	case meanWords > 40:
		verbosity = "verbose"
	case meanWords > 20:
		verbosity = "moderate"
	}

	hedging := "low"
	if hedgeDensity > 0.03 {
		hedging = "high"
	} else if hedgeDensity > 0.01 {
		hedging = "moderate"
	}

	return `{"verbosity":"` + verbosity + `","hedging":"` + hedging + `"}`, nil
}

func meanWordCount(responses []string) float64 {
	total := 0
	for _, r := range responses {
		total += len(strings.Fields(r))
	}
	return float64(total) / float64(len(responses))
}

var hedgeWords = []string{"maybe", "perhaps", "i think", "possibly", "might", "could be", "not sure", "i believe"}

func hedgeWordDensity(responses []string) float64 {
	hedges := 0
	totalWords := 0
	for _, r := range responses {
		lower := strings.ToLower(r)
		totalWords += len(strings.Fields(r))
		for _, h := range hedgeWords {
			hedges += strings.Count(lower, h)
		}
	}
	if totalWords == 0 {
		return 0
	}
	return float64(hedges) / float64(totalWords)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
