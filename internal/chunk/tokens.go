package chunk

import (
	"unicode"
)

// Token is a word-like span of document content with byte offsets.
type Token struct {
	Text  string
	Start int // Byte offset in the source
	End   int // Exclusive end byte offset
}

// Tokenize splits text into word tokens, preserving byte offsets.
// A token is a maximal run of letters, digits, or underscores. Punctuation
// runs also count as single tokens so that code density is reflected in
// token counts. Both chunking strategies use this tokenizer so chunk size
// invariants hold regardless of strategy.
func Tokenize(text string) []Token {
	var tokens []Token
	i := 0
	n := len(text)

	for i < n {
		r := rune(text[i])

		// Skip whitespace
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			i++
			continue
		}

		start := i
		if isWordByte(text[i]) {
			for i < n && isWordByte(text[i]) {
				i++
			}
		} else {
			// Punctuation run
			for i < n && !isWordByte(text[i]) && !isSpaceByte(text[i]) {
				i++
			}
		}
		tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
	}

	return tokens
}

// CountTokens returns the number of tokens in text.
func CountTokens(text string) int {
	count := 0
	inWord := false
	inPunct := false
	for i := 0; i < len(text); i++ {
		switch {
		case isSpaceByte(text[i]):
			inWord, inPunct = false, false
		case isWordByte(text[i]):
			if !inWord {
				count++
			}
			inWord, inPunct = true, false
		default:
			if !inPunct {
				count++
			}
			inWord, inPunct = false, true
		}
	}
	return count
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 0x80 ||
		unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
