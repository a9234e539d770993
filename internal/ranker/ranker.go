// Package ranker parses AI provider output into suggestions and ranks the
// merged set of one generation batch.
package ranker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/trendmind/trendmind/internal/models"
)

// ErrParse marks provider text that did not contain a suggestion list.
var ErrParse = errors.New("unparseable provider output")

// Defaults for ranking a batch.
const (
	DefaultConfidenceThreshold = 0.7
	DefaultMaxSuggestions      = 10
	DefaultMaxPerSource        = 5
	DefaultExpiry              = 24 * time.Hour
)

// Suggestion is one parsed provider proposal.
type Suggestion struct {
	Topic         string
	Category      string
	Confidence    float64
	Reasoning     string
	RelatedTopics []string
	Source        string
}

type rawSuggestion struct {
	Topic              string   `json:"topic"`
	Category           string   `json:"category"`
	ConfidenceScore    *float64 `json:"confidence_score"`
	Confidence         *float64 `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	RelatedTopics      []string `json:"related_topics"`
	RelatedTopicsCamel []string `json:"relatedTopics"`
}

// Parse extracts the JSON array between the first '[' and the last ']' of
// text. Items without a topic or confidence are skipped; at most maxItems are
// returned. A failure wraps ErrParse.
func Parse(source, text string, maxItems int) ([]Suggestion, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: %s: no JSON array found", ErrParse, source)
	}

	var raw []rawSuggestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, source, err)
	}

	out := make([]Suggestion, 0, len(raw))
	for _, r := range raw {
		if maxItems > 0 && len(out) == maxItems {
			break
		}
		topic := strings.TrimSpace(r.Topic)
		conf := r.ConfidenceScore
		if conf == nil {
			conf = r.Confidence
		}
		if topic == "" || conf == nil || math.IsNaN(*conf) {
			continue
		}
		related := r.RelatedTopics
		if len(related) == 0 {
			related = r.RelatedTopicsCamel
		}
		out = append(out, Suggestion{
			Topic:         models.TruncateTopic(topic),
			Category:      strings.TrimSpace(r.Category),
			Confidence:    math.Max(0, math.Min(1, *conf)),
			Reasoning:     strings.TrimSpace(r.Reasoning),
			RelatedTopics: related,
			Source:        source,
		})
	}
	return out, nil
}

// Options tune Rank.
type Options struct {
	ConfidenceThreshold float64
	MaxSuggestions      int
	Expiry              time.Duration
}

// DefaultOptions returns the standard ranking options.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MaxSuggestions:      DefaultMaxSuggestions,
		Expiry:              DefaultExpiry,
	}
}

// Rank filters by confidence, keeps the most confident suggestion per
// normalized topic, orders by confidence descending and caps the result.
// Every accepted suggestion expires at now + opts.Expiry.
func Rank(suggestions []Suggestion, opts Options, now time.Time) []models.AISuggestion {
	best := make(map[string]Suggestion)
	var order []string
	for _, s := range suggestions {
		if s.Confidence < opts.ConfidenceThreshold {
			continue
		}
		key := models.NormalizeTopic(s.Topic)
		prev, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || s.Confidence > prev.Confidence {
			best[key] = s
		}
	}

	kept := make([]Suggestion, 0, len(order))
	keys := make([]string, 0, len(order))
	for _, k := range order {
		kept = append(kept, best[k])
		keys = append(keys, k)
	}
	idx := make([]int, len(kept))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return kept[idx[a]].Confidence > kept[idx[b]].Confidence })

	if opts.MaxSuggestions > 0 && len(idx) > opts.MaxSuggestions {
		idx = idx[:opts.MaxSuggestions]
	}

	expires := now.UTC().Add(opts.Expiry)
	out := make([]models.AISuggestion, 0, len(idx))
	for _, i := range idx {
		s := kept[i]
		category := s.Category
		if category == "" {
			category = "general"
		}
		out = append(out, models.AISuggestion{
			Topic:           s.Topic,
			TopicKey:        keys[i],
			Category:        category,
			ConfidenceScore: s.Confidence,
			RankingScore:    s.Confidence,
			Source:          s.Source,
			Reasoning:       s.Reasoning,
			RelatedTopics:   s.RelatedTopics,
			IsActive:        true,
			CreatedAt:       now.UTC(),
			ExpiresAt:       expires,
		})
	}
	return out
}
