package ranker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	text := "Here you go:\n```json\n[" +
		`{"topic": "AI pair programming", "category": "ai_coding", "confidence_score": 0.91, "reasoning": "tooling", "related_topics": ["copilot"]},` +
		`{"topic": "WASM components", "category": "tools", "confidence": 0.75, "relatedTopics": ["wasi"]},` +
		`{"topic": "", "confidence_score": 0.9},` +
		`{"topic": "no confidence"},` +
		`{"topic": "overconfident", "confidence_score": 1.7}` +
		"]\n```"

	got, err := Parse("openai", text, 5)
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Equal(t, "AI pair programming", got[0].Topic)
	require.InDelta(t, 0.91, got[0].Confidence, 1e-9)
	require.Equal(t, []string{"copilot"}, got[0].RelatedTopics)
	require.Equal(t, "openai", got[0].Source)

	require.InDelta(t, 0.75, got[1].Confidence, 1e-9)
	require.Equal(t, []string{"wasi"}, got[1].RelatedTopics)

	require.InDelta(t, 1.0, got[2].Confidence, 1e-9)
}

func TestParseCapsPerSource(t *testing.T) {
	var items []string
	for i := 0; i < 8; i++ {
		items = append(items, fmt.Sprintf(`{"topic": "t%d", "confidence_score": 0.9}`, i))
	}
	got, err := Parse("gemini", "["+strings.Join(items, ",")+"]", 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no array", "I cannot help with that."},
		{"reversed brackets", "] then ["},
		{"invalid json", `[{"topic": "x", confidence_score: }]`},
		{"not objects", `["a", "b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("openai", tt.text, 5)
			require.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestRank(t *testing.T) {
	var in []Suggestion
	for i := 0; i < 8; i++ {
		in = append(in, Suggestion{Topic: fmt.Sprintf("openai topic %d", i), Confidence: 0.7 + float64(i)*0.01, Source: "openai"})
		in = append(in, Suggestion{Topic: fmt.Sprintf("gemini topic %d", i), Confidence: 0.75 + float64(i)*0.02, Source: "gemini"})
	}
	in = append(in,
		Suggestion{Topic: "below threshold", Confidence: 0.69, Source: "openai"},
		Suggestion{Topic: "Gemini Topic 7", Confidence: 0.5, Source: "openai"},
	)

	out := Rank(in, DefaultOptions(), now)
	require.Len(t, out, DefaultMaxSuggestions)

	for i := 1; i < len(out); i++ {
		require.GreaterOrEqual(t, out[i-1].ConfidenceScore, out[i].ConfidenceScore)
	}
	for _, s := range out {
		require.GreaterOrEqual(t, s.ConfidenceScore, DefaultConfidenceThreshold)
		require.Equal(t, s.ConfidenceScore, s.RankingScore)
		require.True(t, s.ExpiresAt.Equal(now.Add(24*time.Hour)))
		require.True(t, s.IsActive)
		require.NotEqual(t, "below threshold", s.Topic)
	}
	require.Equal(t, "gemini topic 7", out[0].Topic)
	require.Equal(t, "gemini", out[0].Source)
}

func TestRankDedupesByTopic(t *testing.T) {
	out := Rank([]Suggestion{
		{Topic: "Rust in the kernel", Confidence: 0.8, Source: "openai"},
		{Topic: "rust  in the KERNEL", Confidence: 0.9, Source: "gemini", Category: "programming_languages"},
	}, DefaultOptions(), now)

	require.Len(t, out, 1)
	require.Equal(t, "gemini", out[0].Source)
	require.Equal(t, "rust in the kernel", out[0].TopicKey)
	require.Equal(t, "programming_languages", out[0].Category)
}

func TestRankEmpty(t *testing.T) {
	require.Empty(t, Rank(nil, DefaultOptions(), now))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt([]TrendHint{{Topic: "AI Coding", Category: "ai_coding", Score: 0.74, Trend: "rising"}}, 5)
	require.Contains(t, p, "AI Coding (category: ai_coding, score: 0.74, trend: rising)")
	require.Contains(t, p, "up to 5")
	require.Contains(t, p, `"confidence_score"`)
}
