package annotate

import (
	"strings"
	"unicode/utf8"
)

// RiskLevel is ordered unknown < safe < warning < danger.
type RiskLevel string

const (
	RiskUnknown RiskLevel = "unknown"
	RiskSafe    RiskLevel = "safe"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskSafe:
		return 1
	case RiskWarning:
		return 2
	case RiskDanger:
		return 3
	default:
		return 0
	}
}

// ParseRiskLevel accepts the canonical levels plus the synonyms models tend
// to answer with. Unrecognized input maps to RiskUnknown with ok=false.
func ParseRiskLevel(raw string) (RiskLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "unknown", "":
		return RiskUnknown, true
	case "safe", "low", "none", "normal", "安全", "低":
		return RiskSafe, true
	case "warning", "warn", "medium", "moderate", "caution", "警告", "中":
		return RiskWarning, true
	case "danger", "dangerous", "high", "critical", "危险", "高":
		return RiskDanger, true
	default:
		return RiskUnknown, false
	}
}

func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	if a.rank() == 0 {
		return RiskUnknown
	}
	return a
}

const (
	maxHighlights    = 5
	maxKeywords      = 10
	maxSummaryRunes  = 500
	maxHighlightRune = 200
	maxKeywordRunes  = 40
)

// Result is the structured annotation of one article.
type Result struct {
	Summary    string    `json:"summary"`
	Highlights []string  `json:"highlights"`
	Keywords   []string  `json:"keywords"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// Normalized trims every field, drops empty entries, dedupes keywords
// case-insensitively and bounds list sizes.
func (r Result) Normalized() Result {
	out := Result{
		Summary:   clipRunes(strings.TrimSpace(r.Summary), maxSummaryRunes),
		RiskLevel: r.RiskLevel,
	}
	if out.RiskLevel == "" {
		out.RiskLevel = RiskUnknown
	}
	for _, h := range r.Highlights {
		h = clipRunes(strings.TrimSpace(h), maxHighlightRune)
		if h == "" {
			continue
		}
		out.Highlights = append(out.Highlights, h)
		if len(out.Highlights) == maxHighlights {
			break
		}
	}
	out.Keywords = dedupeFold(r.Keywords, maxKeywords, maxKeywordRunes)
	return out
}

func (r Result) Empty() bool {
	return r.Summary == "" && len(r.Highlights) == 0 && len(r.Keywords) == 0
}

func dedupeFold(values []string, limit, maxRunes int) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.Trim(strings.TrimSpace(v), "#,，、;；")
		if v == "" || utf8.RuneCountInString(v) > maxRunes {
			continue
		}
		key := strings.ToLower(v)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:limit]))
}
