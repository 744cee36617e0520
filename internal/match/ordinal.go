package match

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/width"
)

// Ordinal tokens are episode/volume/chapter numbers extracted from titles and
// filenames. Two strings whose ordinal sets are disjoint belong to different
// installments of the same series and must not bind to each other.

var kanjiDigitReplacer = strings.NewReplacer(
	"十", "10",
	"一", "1",
	"二", "2",
	"三", "3",
	"四", "4",
	"五", "5",
	"六", "6",
	"七", "7",
	"八", "8",
	"九", "9",
	"〇", "0",
)

var (
	japaneseCounterPattern = regexp.MustCompile(`第\s*([0-9]+)\s*(?:話|巻|章|集|部)?`)
	bracketedNumberPattern = regexp.MustCompile(`[\[(]\s*([0-9]+)\s*[\])]`)
	trailingNumberPattern  = regexp.MustCompile(`([0-9]+)\s*$`)
)

type ordinalExtractor struct {
	markerPattern *regexp.Regexp
}

var extractorCache sync.Map // markers key -> *ordinalExtractor

func extractorFor(markers []string) *ordinalExtractor {
	key := strings.Join(markers, "|")
	if cached, ok := extractorCache.Load(key); ok {
		return cached.(*ordinalExtractor)
	}
	escaped := make([]string, 0, len(markers))
	for _, marker := range markers {
		escaped = append(escaped, regexp.QuoteMeta(marker))
	}
	ex := &ordinalExtractor{
		markerPattern: regexp.MustCompile(`(?:^|[^a-z])(?:` + strings.Join(escaped, "|") + `)\.?\s*([0-9]+)`),
	}
	extractorCache.Store(key, ex)
	return ex
}

// ExtractOrdinals returns the set of ordinal tokens found in s, canonicalized
// to decimal strings without leading zeros. Full-width and small kanji
// numerals are folded before matching.
func ExtractOrdinals(s string, markers []string) map[string]struct{} {
	folded := strings.ToLower(width.Fold.String(s))
	folded = kanjiDigitReplacer.Replace(folded)

	out := make(map[string]struct{})
	add := func(groups [][]string) {
		for _, g := range groups {
			if len(g) > 1 {
				out[canonicalOrdinal(g[1])] = struct{}{}
			}
		}
	}

	add(japaneseCounterPattern.FindAllStringSubmatch(folded, -1))
	add(extractorFor(markers).markerPattern.FindAllStringSubmatch(folded, -1))
	add(bracketedNumberPattern.FindAllStringSubmatch(folded, -1))

	// The trailing number only counts when nothing structural matched;
	// otherwise "Series 2 Episode 7" would contribute a spurious "2".
	if len(out) == 0 {
		trimmed := strings.TrimSpace(StripExtension(folded))
		add(trailingNumberPattern.FindAllStringSubmatch(trimmed, -1))
	}

	delete(out, "")
	return out
}

func canonicalOrdinal(digits string) string {
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" && digits != "" {
		return "0"
	}
	return trimmed
}

func ordinalsShared(a, b map[string]struct{}) bool {
	for token := range a {
		if _, ok := b[token]; ok {
			return true
		}
	}
	return false
}
