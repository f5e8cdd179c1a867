package chunker

import (
	"math"
	"strings"
)

// EstimateTokens gives the token count of text as ceil(words / ratio), where
// ratio is words per token and words are whitespace-delimited.
func EstimateTokens(text string, ratio float64) int {
	return tokensForWords(countWords(text), ratio)
}

func tokensForWords(words int, ratio float64) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / ratio))
}

// wordsForTokens returns the largest word count whose estimate stays within
// tokens. Floating point makes floor(tokens*ratio) off by one for some ratios,
// so the result is corrected against tokensForWords.
func wordsForTokens(tokens int, ratio float64) int {
	if tokens <= 0 {
		return 0
	}
	w := int(math.Floor(float64(tokens) * ratio))
	for w > 0 && tokensForWords(w, ratio) > tokens {
		w--
	}
	for tokensForWords(w+1, ratio) <= tokens {
		w++
	}
	return w
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
