package compress

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Summarizer shortens text to at most maxChars characters (best effort).
// Implementations may call remote services; they must honor ctx.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxChars int) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, text string, maxChars int) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	return f(ctx, text, maxChars)
}

const ellipsis = "..."

// ExtractiveSummarizer keeps the highest-scoring sentences in their original order.
// It is deterministic and never exceeds maxChars.
type ExtractiveSummarizer struct {
	PreserveKeyInformation bool
}

type sentence struct {
	index int
	text  string
	score float64
}

// Summarize implements Summarizer.
func (s ExtractiveSummarizer) Summarize(ctx context.Context, content string, maxChars int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if maxChars <= 0 {
		return "", fmt.Errorf("invalid summary length %d", maxChars)
	}

	sentences := dedupe(splitSentences(PlainText(content)))
	if len(sentences) == 0 {
		return "", fmt.Errorf("no text to summarize")
	}

	freq := termFrequencies(sentences)
	for i := range sentences {
		sentences[i].score = s.scoreSentence(sentences[i], freq)
	}

	ranked := make([]sentence, len(sentences))
	copy(ranked, sentences)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	var picked []sentence
	used := 0
	for _, sent := range ranked {
		n := utf8.RuneCountInString(sent.text)
		sep := 0
		if len(picked) > 0 {
			sep = 1
		}
		if used+sep+n <= maxChars {
			picked = append(picked, sent)
			used += sep + n
		}
	}

	if len(picked) == 0 {
		return truncateAtWord(ranked[0].text, maxChars), nil
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })
	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = p.text
	}
	return strings.Join(parts, " "), nil
}

// scoreSentence averages term frequency over the sentence, with bonuses for the
// opening sentence and for sentences carrying key information.
func (s ExtractiveSummarizer) scoreSentence(sent sentence, freq map[string]int) float64 {
	ws := words(sent.text)
	if len(ws) == 0 {
		return 0
	}

	total := 0
	for _, w := range ws {
		total += freq[w]
	}
	score := float64(total) / float64(len(ws))

	if sent.index == 0 {
		score += 1
	}
	if s.PreserveKeyInformation && hasKeyInformation(sent.text) {
		score += 1.5
	}
	return score
}

// hasKeyInformation reports digits, quotations, or capitalized words past the first.
func hasKeyInformation(text string) bool {
	if strings.ContainsAny(text, "\"“”«»") {
		return true
	}
	for i, w := range strings.Fields(text) {
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsDigit(r) {
			return true
		}
		if i > 0 && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func termFrequencies(sentences []sentence) map[string]int {
	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range words(s.text) {
			freq[w]++
		}
	}
	return freq
}

// words lowercases text and returns words of at least three characters.
func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// splitSentences breaks text on terminal punctuation and line breaks.
func splitSentences(text string) []sentence {
	var out []sentence
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, sentence{index: len(out), text: s})
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		switch r {
		case '。', '！', '？':
			flush()
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return out
}

// dedupe drops repeated sentences, keeping the first occurrence.
func dedupe(sentences []sentence) []sentence {
	seen := make(map[string]bool, len(sentences))
	out := make([]sentence, 0, len(sentences))
	for _, s := range sentences {
		key := strings.ToLower(strings.Join(strings.Fields(s.text), " "))
		if seen[key] {
			continue
		}
		seen[key] = true
		s.index = len(out)
		out = append(out, s)
	}
	return out
}

// truncateAtWord cuts text to maxChars characters, preferring a word boundary.
func truncateAtWord(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if maxChars <= len(ellipsis) {
		return string(runes[:maxChars])
	}

	cut := maxChars - len(ellipsis)
	for i := cut; i > cut/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + ellipsis
}
