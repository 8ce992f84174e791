package annotate

import (
	"sort"
	"strings"
	"unicode"

	"horse.fit/newsai/internal/reader"
)

const (
	fallbackSummaryRunes   = 120
	fallbackHighlightRunes = 80
	fallbackHighlights     = 3
	fallbackKeywords       = 8
	fallbackKeywordRunes   = 20
)

// Fallback derives an annotation locally from the article text. It is
// deterministic and leaves RiskLevel unknown. Highlights and keywords are
// non-empty whenever title or text has any non-space content.
func Fallback(title, text string) Result {
	title = strings.TrimSpace(title)
	text = strings.TrimSpace(text)
	source := text
	if source == "" {
		source = title
	}
	if source == "" {
		return Result{RiskLevel: RiskUnknown}
	}

	sentences := splitSentences(source)
	out := Result{RiskLevel: RiskUnknown}
	if len(sentences) > 0 {
		out.Summary, _ = reader.TruncateRunes(sentences[0], fallbackSummaryRunes)
	} else {
		out.Summary, _ = reader.TruncateRunes(source, fallbackSummaryRunes)
	}

	for _, sentence := range sentences {
		clipped, _ := reader.TruncateRunes(sentence, fallbackHighlightRunes)
		out.Highlights = append(out.Highlights, clipped)
		if len(out.Highlights) == fallbackHighlights {
			break
		}
	}
	if len(out.Highlights) == 0 {
		clipped, _ := reader.TruncateRunes(source, fallbackHighlightRunes)
		out.Highlights = []string{clipped}
	}

	out.Keywords = extractKeywords(strings.TrimSpace(title+"\n"+text), fallbackKeywords)
	if len(out.Keywords) == 0 {
		clipped, _ := reader.TruncateRunes(source, fallbackKeywordRunes)
		out.Keywords = []string{clipped}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '；', ';':
		return true
	}
	return false
}

// splitSentences cuts on CJK and ASCII terminators and on line breaks.
// Terminators stay attached to their sentence.
func splitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		sentence := strings.Join(strings.Fields(current.String()), " ")
		current.Reset()
		if len([]rune(sentence)) >= 2 {
			out = append(out, sentence)
		}
	}
	for _, r := range text {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}
		current.WriteRune(r)
		if isSentenceEnd(r) {
			flush()
		}
	}
	flush()
	return out
}

var englishStopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by can could did do does for from had has have he her his
		how i if in into is it its may more most must no not of on or our she should so such than that the their them
		then there these they this those to was we were what when which who will with would you your about after also
		before between over under said says new one two per up out all any each other via`) {
		englishStopWords[w] = struct{}{}
	}
}

var chineseStopWords = map[string]struct{}{
	"我们": {}, "他们": {}, "你们": {}, "这个": {}, "那个": {}, "一个": {}, "没有": {}, "可以": {},
	"因为": {}, "所以": {}, "但是": {}, "如果": {}, "以及": {}, "进行": {}, "已经": {}, "表示": {},
}

var chineseFunctionRunes = map[rune]struct{}{
	'的': {}, '了': {}, '和': {}, '是': {}, '在': {}, '与': {}, '及': {}, '对': {}, '将': {}, '为': {},
	'也': {}, '就': {}, '都': {}, '而': {}, '被': {}, '把': {}, '从': {}, '向': {}, '于': {}, '等': {},
}

type keywordStat struct {
	token string
	count int
	first int
}

// extractKeywords ranks Latin words and Han tokens by frequency, breaking
// ties by first occurrence. Han runs of 2-4 runes count as one token, longer
// runs contribute their bigrams.
func extractKeywords(text string, limit int) []string {
	stats := make(map[string]*keywordStat)
	position := 0
	add := func(token string) {
		stat, ok := stats[token]
		if !ok {
			stat = &keywordStat{token: token, first: position}
			stats[token] = stat
		}
		stat.count++
		position++
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.Is(unicode.Han, r):
			j := i
			for j < len(runes) && unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			addHanRun(runes[i:j], add)
			i = j
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			j := i
			for j < len(runes) && runes[j] < unicode.MaxASCII && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '-' || runes[j] == '\'') {
				j++
			}
			word := strings.ToLower(strings.Trim(string(runes[i:j]), "-'"))
			if len(word) >= 2 {
				if _, stop := englishStopWords[word]; !stop {
					add(word)
				}
			}
			i = j
		default:
			i++
		}
	}

	ranked := make([]*keywordStat, 0, len(stats))
	for _, stat := range stats {
		ranked = append(ranked, stat)
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].count != ranked[b].count {
			return ranked[a].count > ranked[b].count
		}
		return ranked[a].first < ranked[b].first
	})

	out := make([]string, 0, limit)
	for _, stat := range ranked {
		out = append(out, stat.token)
		if len(out) == limit {
			break
		}
	}
	return out
}

func addHanRun(run []rune, add func(string)) {
	switch {
	case len(run) < 2:
		return
	case len(run) <= 4:
		token := string(run)
		if _, stop := chineseStopWords[token]; !stop {
			add(token)
		}
	default:
		for i := 0; i+1 < len(run); i++ {
			if _, fn := chineseFunctionRunes[run[i]]; fn {
				continue
			}
			if _, fn := chineseFunctionRunes[run[i+1]]; fn {
				continue
			}
			token := string(run[i : i+2])
			if _, stop := chineseStopWords[token]; stop {
				continue
			}
			add(token)
		}
	}
}
