package match

import (
	"strings"

	"taskwatch/internal/config"
)

// Score rule results. The identifier and exact tiers outrank every structural
// rule, structural rules outrank the generic similarity fallbacks, and the
// ordinal-mismatch penalty undercuts the acceptance threshold. Only this
// ordering matters; the magnitudes are tunable via Options.
const (
	scoreIdentifier      = 100
	scoreExactLabel      = 100
	scoreNormalizedLabel = 96
	scoreSubstring       = 85
	scorePrefix          = 82
)

// Options carries the tunable constants of the scorer and matcher.
type Options struct {
	Threshold         int
	PrefixLength      int
	OrdinalPenalty    int
	TokenOverlapMax   int
	TokenOverlapFloor int
	BigramMax         int
	OrdinalMarkers    []string
}

// DefaultOptions mirrors the config defaults for direct library use.
func DefaultOptions() Options {
	return Options{
		Threshold:         25,
		PrefixLength:      22,
		OrdinalPenalty:    10,
		TokenOverlapMax:   70,
		TokenOverlapFloor: 15,
		BigramMax:         70,
		OrdinalMarkers:    []string{"volume", "vol", "part", "pt", "chapter", "ch", "episode", "ep", "no"},
	}
}

// OptionsFromConfig maps the [matching] config section onto scorer options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:         cfg.Matching.Threshold,
		PrefixLength:      cfg.Matching.PrefixLength,
		OrdinalPenalty:    cfg.Matching.OrdinalPenalty,
		TokenOverlapMax:   cfg.Matching.TokenOverlapMax,
		TokenOverlapFloor: cfg.Matching.TokenOverlapFloor,
		BigramMax:         cfg.Matching.BigramMax,
		OrdinalMarkers:    cfg.Matching.OrdinalMarkers,
	}
}

// Score computes a correlation confidence in 0..100 between a download event
// candidate name and a task's label/identifier. Rules are priority ordered;
// the first applicable rule decides.
func Score(candidateName, taskLabel, taskIdentifier string, opts Options) int {
	candidateName = strings.TrimSpace(candidateName)
	taskLabel = strings.TrimSpace(taskLabel)
	if candidateName == "" || taskLabel == "" {
		return 0
	}

	// Rule 1: a literal identifier occurrence is near-certain correlation.
	if id := strings.TrimSpace(taskIdentifier); id != "" {
		if strings.Contains(strings.ToLower(candidateName), strings.ToLower(id)) {
			return scoreIdentifier
		}
	}

	stripped := StripExtension(candidateName)
	if stripped == taskLabel {
		return scoreExactLabel
	}

	normCandidate := Normalize(stripped)
	normLabel := Normalize(taskLabel)
	if normCandidate == "" || normLabel == "" {
		return 0
	}
	if normCandidate == normLabel {
		return scoreNormalizedLabel
	}

	// Rule 3: disjoint ordinal sets mean same series, different installment.
	// The penalty short-circuits so a high bigram similarity between
	// sibling episodes can never cross the threshold.
	candOrdinals := ExtractOrdinals(stripped, opts.OrdinalMarkers)
	labelOrdinals := ExtractOrdinals(taskLabel, opts.OrdinalMarkers)
	if len(candOrdinals) > 0 && len(labelOrdinals) > 0 && !ordinalsShared(candOrdinals, labelOrdinals) {
		return opts.OrdinalPenalty
	}

	if strings.Contains(normCandidate, normLabel) || strings.Contains(normLabel, normCandidate) {
		return scoreSubstring
	}

	if prefixMatches(normCandidate, normLabel, opts.PrefixLength) {
		return scorePrefix
	}

	if overlap := tokenOverlap(normCandidate, normLabel, opts); overlap > 0 {
		return overlap
	}

	return int(bigramDice(normCandidate, normLabel) * float64(opts.BigramMax))
}

func prefixMatches(a, b string, length int) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < length || len(rb) < length {
		return false
	}
	return string(ra[:length]) == string(rb[:length])
}

// tokenOverlap returns the fraction of the shorter string's significant
// tokens found in the other string, scaled to TokenOverlapMax, floored at
// TokenOverlapFloor when any overlap exists. Returns 0 when nothing overlaps.
func tokenOverlap(a, b string, opts Options) int {
	tokensA := significantTokens(a)
	tokensB := significantTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	shorter, other, otherStr := tokensA, tokensB, b
	if len(tokensB) < len(tokensA) {
		shorter, other, otherStr = tokensB, tokensA, a
	}
	otherSet := make(map[string]struct{}, len(other))
	for _, token := range other {
		otherSet[token] = struct{}{}
	}

	found := 0
	for _, token := range shorter {
		if _, ok := otherSet[token]; ok {
			found++
			continue
		}
		if strings.Contains(otherStr, token) {
			found++
		}
	}
	if found == 0 {
		return 0
	}
	score := found * opts.TokenOverlapMax / len(shorter)
	if score < opts.TokenOverlapFloor {
		score = opts.TokenOverlapFloor
	}
	return score
}

func significantTokens(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, field := range fields {
		if len([]rune(field)) > 2 {
			out = append(out, field)
		}
	}
	return out
}

// bigramDice computes the Dice coefficient over character bigrams:
// 2*|shared| / (|bigrams1| + |bigrams2|).
func bigramDice(a, b string) float64 {
	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	counts := make(map[string]int, len(bigramsA))
	for _, bg := range bigramsA {
		counts[bg]++
	}
	shared := 0
	for _, bg := range bigramsB {
		if counts[bg] > 0 {
			counts[bg]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(bigramsA)+len(bigramsB))
}

func bigrams(s string) []string {
	runes := []rune(strings.ReplaceAll(s, " ", ""))
	if len(runes) < 2 {
		return nil
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}
