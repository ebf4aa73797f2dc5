// Package finnum parses and formats amounts as they appear in Japanese
// financial statements: 億/万/千 units, full-width digits, ▲/△ negatives.
package finnum

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	oku = 100000000
	man = 10000
	sen = 1000

	// NoData is what Format returns for NaN.
	NoData = "データなし"
)

var (
	normalizer = strings.NewReplacer(
		"，", ",", "、", ",",
		"－", "-", "−", "-",
		"円", "", "¥", "",
	)
	signStripper = strings.NewReplacer("-", "", "▲", "", "△", "")

	// floatPrefix mirrors the leading portion a lenient float parser accepts.
	floatPrefix = regexp.MustCompile(`^[+]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

	// Ordered from most to least specific. Text matched by one pattern is
	// masked before the next runs, so "3千万円" yields one amount.
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[▲△-]?[\d,]+(?:[千万億][\d,]*)+円?`),
		regexp.MustCompile(`[▲△-]?[\d,]+円`),
		regexp.MustCompile(`[▲△-]?[\d,]+`),
	}

	largeUnits = []struct {
		marker string
		factor float64
	}{{"億", oku}, {"万", man}}

	itemNameStripper = strings.NewReplacer("（", "", "）", "", "(", "", ")", "", "：", "", ":", "")
)

// Parse converts a Japanese amount string such as "▲1,234万円" to a number.
// Compound amounts add up per unit: "1億2345万" is 123450000 and "3千万" is
// 30000000. ok is false when no number can be read.
func Parse(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}

	normalized := normalizer.Replace(toHalfWidthDigits(s))
	normalized = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, normalized)

	negative := strings.ContainsAny(normalized, "-▲△")
	normalized = signStripper.Replace(normalized)
	normalized = strings.ReplaceAll(normalized, ",", "")

	v, ok := parseUnits(normalized)
	if !ok {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// Format renders v compactly, e.g. 123456789 → "1億2345万円". Negative
// values get a ▲ prefix.
func Format(v float64, showUnit bool) string {
	if math.IsNaN(v) {
		return NoData
	}

	abs := math.Abs(v)
	var out string
	switch {
	case abs >= oku:
		out = integer(abs/oku) + "億"
		if rem := math.Mod(abs, oku); rem >= man {
			out += integer(rem/man) + "万"
		}
	case abs >= man:
		out = integer(abs/man) + "万"
		if rem := math.Mod(abs, man); rem >= sen {
			out += integer(rem/sen) + "千"
		}
	case abs >= sen:
		out = integer(abs/sen) + "千"
	default:
		out = strconv.FormatFloat(math.Round(abs*1000)/1000, 'f', -1, 64)
	}

	if showUnit {
		out += "円"
	}
	if v < 0 {
		out = "▲" + out
	}
	return out
}

// Extract returns every distinct amount found in text, largest magnitude first.
func Extract(text string) []float64 {
	values := []float64{}
	if text == "" {
		return values
	}

	work := []byte(text)
	seen := make(map[float64]struct{})
	for _, pattern := range amountPatterns {
		for _, loc := range pattern.FindAllIndex(work, -1) {
			v, ok := Parse(string(work[loc[0]:loc[1]]))
			for i := loc[0]; i < loc[1]; i++ {
				work[i] = 0
			}
			if !ok {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}

	sort.SliceStable(values, func(i, j int) bool {
		return math.Abs(values[i]) > math.Abs(values[j])
	})
	return values
}

// NormalizeItemName strips whitespace, brackets and colons from a statement
// line item so "売上高（連結）：" and "売上高連結" compare equal.
func NormalizeItemName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
	return itemNameStripper.Replace(name)
}

// parseUnits reads "<n>億<n>万<n>" where each part is optional and each <n>
// may itself carry a 千 group, so "1億5千万" is 150000000.
func parseUnits(s string) (float64, bool) {
	var total float64
	found := false
	rest := s
	for _, unit := range largeUnits {
		idx := strings.Index(rest, unit.marker)
		if idx < 0 {
			continue
		}
		n, ok := parseThousands(rest[:idx])
		if !ok {
			return 0, false
		}
		total += n * unit.factor
		found = true
		rest = strings.ReplaceAll(rest[idx+len(unit.marker):], unit.marker, "")
	}

	if n, ok := parseThousands(rest); ok {
		total += n
	} else if !found {
		return 0, false
	}
	return total, true
}

// parseThousands reads "<n>千<n>" or a plain number.
func parseThousands(s string) (float64, bool) {
	idx := strings.Index(s, "千")
	if idx < 0 {
		return leadingFloat(s)
	}
	n, ok := leadingFloat(s[:idx])
	if !ok {
		return 0, false
	}
	total := n * sen
	if m, ok := leadingFloat(strings.ReplaceAll(s[idx+len("千"):], "千", "")); ok {
		total += m
	}
	return total, true
}

func leadingFloat(s string) (float64, bool) {
	prefix := floatPrefix.FindString(s)
	if prefix == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toHalfWidthDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, s)
}

func integer(v float64) string {
	return strconv.FormatFloat(math.Floor(v), 'f', 0, 64)
}
