package relevance

import (
	"strings"
	"unicode"
)

// Similarity produces a [0,1] similarity signal between stored content and a query.
// Implementations backed by embeddings can replace the lexical default.
type Similarity interface {
	Similarity(content, query string) float64
}

// SimilarityFunc adapts a function to the Similarity interface.
type SimilarityFunc func(content, query string) float64

// Similarity implements Similarity.
func (f SimilarityFunc) Similarity(content, query string) float64 {
	return f(content, query)
}

// LexicalSimilarity blends query-term coverage with Jaccard overlap of salient terms.
type LexicalSimilarity struct{}

// Similarity implements Similarity.
func (LexicalSimilarity) Similarity(content, query string) float64 {
	queryTerms := termSet(query)
	contentTerms := termSet(content)
	if len(queryTerms) == 0 || len(contentTerms) == 0 {
		return 0
	}

	intersection := 0
	for term := range queryTerms {
		if contentTerms[term] {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	coverage := float64(intersection) / float64(len(queryTerms))
	union := len(queryTerms) + len(contentTerms) - intersection
	jaccard := float64(intersection) / float64(union)

	return 0.7*coverage + 0.3*jaccard
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "he": true, "her": true, "his": true, "in": true, "is": true,
	"it": true, "its": true, "me": true, "my": true, "of": true, "on": true,
	"or": true, "our": true, "she": true, "so": true, "that": true, "the": true,
	"their": true, "them": true, "then": true, "there": true, "they": true,
	"this": true, "to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "with": true, "you": true, "your": true, "about": true,
	"tell": true, "make": true, "more": true, "please": true, "can": true,
}

// termSet tokenizes text into a set of normalized salient terms.
func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range tokenize(text) {
		if stopWords[word] {
			continue
		}
		set[stem(word)] = true
	}
	return set
}

// tokenize lowercases text and splits it into words.
// Each CJK character is its own token.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			if word := current.String(); len(word) >= 2 {
				words = append(words, word)
			}
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			words = append(words, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return words
}

// stem strips common English plural and progressive suffixes.
func stem(word string) string {
	switch {
	case len(word) > 5 && strings.HasSuffix(word, "ing"):
		return word[:len(word)-3]
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	}
	return word
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}
