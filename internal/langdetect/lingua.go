package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// Undetermined is stored when the language cannot be told.
const Undetermined = "und"

// Text whose letters are at least this share Han is reported as Chinese
// without consulting lingua.
const hanShortcutRatio = 0.3

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

var supportedLanguages = []lingua.Language{
	lingua.Chinese,
	lingua.English,
	lingua.Japanese,
	lingua.Korean,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Russian,
}

// Detect returns the ISO 639-1 code of text, or Undetermined.
func Detect(text string) string {
	if code := DetectISO6391(text); code != "" {
		return code
	}
	return Undetermined
}

func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}
	if len(sample) > 4000 {
		sample = strings.ToValidUTF8(sample[:4000], "")
	}

	letterCount := 0
	hanCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
		if unicode.Is(unicode.Han, r) {
			hanCount++
		}
	}
	if letterCount == 0 {
		return ""
	}
	if float64(hanCount)/float64(letterCount) >= hanShortcutRatio {
		return "zh"
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(supportedLanguages...).
			Build()
	})
	return detector
}
