package langdetect

import "strings"

// Normalize reduces a language tag such as "zh_Hans" or " EN-us " to its
// lowercase primary subtag. Blank or non-alphabetic tags yield Undetermined.
func Normalize(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.ReplaceAll(tag, "_", "-")

	for _, part := range strings.Split(tag, "-") {
		if part == "" {
			continue
		}
		for _, r := range part {
			if r < 'a' || r > 'z' {
				return Undetermined
			}
		}
		return part
	}
	return Undetermined
}
