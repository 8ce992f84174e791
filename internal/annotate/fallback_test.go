package annotate

import (
	"reflect"
	"strings"
	"testing"
)

func TestFallbackChineseArticle(t *testing.T) {
	t.Parallel()

	title := "最高法院发布合同纠纷司法解释"
	text := "最高人民法院今日发布关于合同纠纷的司法解释。解释明确了合同解除的条件！新规定自下月起施行。"

	result := Fallback(title, text)
	if result.Summary != "最高人民法院今日发布关于合同纠纷的司法解释。" {
		t.Fatalf("unexpected summary: got %q", result.Summary)
	}
	if len(result.Highlights) != 3 {
		t.Fatalf("unexpected highlights: got %v", result.Highlights)
	}
	if len(result.Keywords) == 0 || len(result.Keywords) > fallbackKeywords {
		t.Fatalf("unexpected keyword count: got %v", result.Keywords)
	}
	if result.RiskLevel != RiskUnknown {
		t.Fatalf("unexpected risk: got %q want %q", result.RiskLevel, RiskUnknown)
	}
	if again := Fallback(title, text); !reflect.DeepEqual(again, result) {
		t.Fatalf("fallback is not deterministic: got %+v want %+v", again, result)
	}
}

func TestFallbackRanksRepeatedEnglishWords(t *testing.T) {
	t.Parallel()

	text := "The tribunal fined the carrier. The carrier will appeal the tribunal decision. Carrier shares fell."
	result := Fallback("Carrier fined", text)
	if len(result.Keywords) == 0 || result.Keywords[0] != "carrier" {
		t.Fatalf("unexpected keywords: got %v", result.Keywords)
	}
	for _, keyword := range result.Keywords {
		if keyword == "the" {
			t.Fatalf("stop word leaked into keywords: %v", result.Keywords)
		}
	}
}

func TestFallbackUsesTitleWhenTextIsEmpty(t *testing.T) {
	t.Parallel()

	result := Fallback("  Data protection bill passes  ", "")
	if result.Summary != "Data protection bill passes" {
		t.Fatalf("unexpected summary: got %q", result.Summary)
	}
	if len(result.Highlights) == 0 || len(result.Keywords) == 0 {
		t.Fatalf("expected non-empty highlights and keywords, got %+v", result)
	}
}

func TestFallbackCapsLongSentences(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("法", 300) + "。"
	result := Fallback("", text)
	if got := len([]rune(result.Summary)); got > fallbackSummaryRunes+1 {
		t.Fatalf("summary too long: got %d runes", got)
	}
	for _, highlight := range result.Highlights {
		if got := len([]rune(highlight)); got > fallbackHighlightRunes+1 {
			t.Fatalf("highlight too long: got %d runes", got)
		}
	}
	if len(result.Keywords) == 0 {
		t.Fatalf("expected keywords for non-empty text")
	}
}

func TestFallbackOfNothingIsEmpty(t *testing.T) {
	t.Parallel()

	result := Fallback(" ", "\n")
	if !result.Empty() || result.RiskLevel != RiskUnknown {
		t.Fatalf("unexpected result: %+v", result)
	}
}
