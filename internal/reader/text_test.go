package reader

import (
	"strings"
	"testing"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestPlainTextStripsEditorMarkup(t *testing.T) {
	t.Parallel()

	input := `<p>法院 <strong>今日</strong> 宣判。</p><script>alert(1)</script><ul><li>第一点</li><li>第二点</li></ul>`
	got := PlainText(input)
	if strings.Contains(got, "alert") || strings.Contains(got, "<") {
		t.Fatalf("markup leaked into text: %q", got)
	}
	for _, want := range []string{"法院 今日 宣判。", "第一点", "第二点"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if !strings.Contains(got, "\n") {
		t.Fatalf("expected block elements to become line breaks: %q", got)
	}
}

func TestPlainTextKeepsPlainInput(t *testing.T) {
	t.Parallel()

	got := PlainText("  Court ruling &amp; appeal \n next  line ")
	want := "Court ruling & appeal\n\nnext line"
	if got != want {
		t.Fatalf("unexpected plain text: got %q want %q", got, want)
	}
	if PlainText("   ") != "" {
		t.Fatalf("expected empty input to stay empty")
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	got, truncated := TruncateRunes("abcdefghijklmnopqrstuvwxyz", 10)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if got != "abcdefghi…" {
		t.Fatalf("unexpected truncated text: %q", got)
	}

	full, wasTruncated := TruncateRunes("短文本", 10)
	if wasTruncated || full != "短文本" {
		t.Fatalf("unexpected short text: %q truncated=%v", full, wasTruncated)
	}
}
