package locator

import (
	"strings"
	"unicode"
)

// FirstNumericToken keeps the first whitespace-separated token of a value
// that contains a digit ("4,5 ★★★★" -> "4,5").
func FirstNumericToken(raw string) (string, bool) {
	if !strings.ContainsFunc(raw, unicode.IsDigit) {
		return "", false
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// Parenthesized keeps the text between the first '(' and the following ')'
// ("(1.234)" -> "1.234").
func Parenthesized(raw string) (string, bool) {
	_, after, ok := strings.Cut(raw, "(")
	if !ok {
		return "", false
	}
	inner, _, ok := strings.Cut(after, ")")
	if !ok {
		return "", false
	}
	return inner, true
}

// StripTel removes a "tel:" scheme.
func StripTel(raw string) (string, bool) {
	return strings.TrimPrefix(raw, "tel:"), true
}

// AfterLabel drops a leading "Label:" prefix ("Phone: 0231 123" -> "0231 123").
// Values without a letters-only label before the colon pass through.
func AfterLabel(raw string) (string, bool) {
	label, value, ok := strings.Cut(raw, ":")
	if !ok || strings.ContainsFunc(label, unicode.IsDigit) || strings.TrimSpace(label) == "" {
		return raw, true
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// HTTPOnly accepts only values that look like web links.
func HTTPOnly(raw string) (string, bool) {
	return raw, strings.Contains(raw, "http")
}

// FirstLine keeps the first non-empty line.
func FirstLine(raw string) (string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, true
		}
	}
	return "", false
}
