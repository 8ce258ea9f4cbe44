package store

import (
	"regexp"
	"strings"
	"unicode"
)

// identRegex matches identifier-like sequences (letters, digits, underscores).
var identRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text with code-aware rules. camelCase and snake_case
// identifiers yield their constituent words in addition to the original
// identifier, so both `getUserName` and `get`, `user`, `name` are indexable.
// All tokens are lowercased; tokens shorter than 2 characters are dropped.
func TokenizeCode(text string) []string {
	var tokens []string

	for _, word := range identRegex.FindAllString(text, -1) {
		parts := SplitCodeToken(word)
		lowerWord := strings.ToLower(word)

		// Retain the original identifier when splitting decomposed it
		if len(parts) > 1 && len(lowerWord) >= 2 {
			tokens = append(tokens, lowerWord)
		}
		for _, part := range parts {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	var result []string

	if strings.Contains(token, "_") {
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}

	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
// Examples:
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPHandler" -> ["HTTP", "Handler"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split when previous is lowercase or next is lowercase
			// (handles acronym runs like HTTPHandler)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// DefaultCodeStopWords are high-frequency tokens with no retrieval value.
var DefaultCodeStopWords = []string{
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
	"of", "with", "by", "is", "are", "was", "were", "be", "been", "this",
	"that", "it", "as", "if", "then", "else",
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
