package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexicalSimilarity(t *testing.T) {
	sim := LexicalSimilarity{}

	tests := []struct {
		name    string
		content string
		query   string
		min     float64
		max     float64
	}{
		{"plural matches singular", "Tell me a story about dragons", "Continue the dragon story", 0.5, 1},
		{"identical", "dragon castle", "dragon castle", 0.99, 1},
		{"unrelated", "weather report", "dragon castle", 0, 0},
		{"empty query", "dragon", "", 0, 0},
		{"stop words only", "the and of", "the and of", 0, 0},
		{"cjk", "我喜欢龙的故事", "龙的故事", 0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sim.Similarity(tt.content, tt.query)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, world! 42 a"))
	assert.Equal(t, []string{"龙", "dragon"}, tokenize("龙 dragon"))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "dragon", stem("dragons"))
	assert.Equal(t, "story", stem("stories"))
	assert.Equal(t, "glass", stem("glass"))
	assert.Equal(t, "fly", stem("flying"))
	assert.Equal(t, "is", stem("is"))
}
