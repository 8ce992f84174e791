package annotate

import (
	"strings"
)

// Built-in lists merged with the externally managed ones.
var (
	DefaultSensitiveWords = []string{"毒品", "诈骗", "赌博", "洗钱", "枪支", "恐怖袭击", "drug trafficking", "money laundering", "terrorist attack"}
	DefaultAdWords        = []string{"加微信", "优惠券", "限时抢购", "点击购买", "扫码领取", "buy now", "limited offer", "promo code"}
)

// RiskClassifier raises a model-asserted risk level using word lists. It never
// lowers the level it is given.
type RiskClassifier struct {
	sensitive []string
	ad        []string
}

// NewRiskClassifier builds a classifier over the given lists plus the
// built-in defaults. Matching is case-insensitive.
func NewRiskClassifier(sensitive, ad []string) *RiskClassifier {
	return &RiskClassifier{
		sensitive: mergeWords(DefaultSensitiveWords, sensitive),
		ad:        mergeWords(DefaultAdWords, ad),
	}
}

// Classify returns max(model, local) and the matched sensitive terms without
// duplicates. Ad words raise the level but are not reported as matches.
func (c *RiskClassifier) Classify(model RiskLevel, texts ...string) (RiskLevel, []string) {
	haystack := strings.ToLower(strings.Join(texts, "\n"))

	local := RiskUnknown
	matched := make([]string, 0)
	seen := make(map[string]struct{})
	collect := func(words []string, level RiskLevel, record bool) {
		for _, word := range words {
			key := strings.ToLower(word)
			if !strings.Contains(haystack, key) {
				continue
			}
			local = MaxRisk(local, level)
			if !record {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			matched = append(matched, word)
		}
	}
	if c != nil {
		collect(c.sensitive, RiskDanger, true)
		collect(c.ad, RiskWarning, false)
	}

	if model == "" {
		model = RiskUnknown
	}
	return MaxRisk(model, local), matched
}

func mergeWords(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, word := range list {
			word = strings.TrimSpace(word)
			key := strings.ToLower(word)
			if word == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, word)
		}
	}
	return out
}
