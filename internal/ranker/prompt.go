package ranker

import (
	"fmt"
	"strings"
)

// TrendHint is one currently trending topic passed to the providers.
type TrendHint struct {
	Topic    string
	Category string
	Score    float64
	Trend    string
}

// BuildPrompt asks a provider for a JSON array of suggestions grounded on the
// current trending topics.
func BuildPrompt(hints []TrendHint, maxItems int) string {
	var b strings.Builder
	b.WriteString("You are an analyst tracking software development trends.\n")
	if len(hints) > 0 {
		b.WriteString("Currently trending topics:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "- %s (category: %s, score: %.2f, trend: %s)\n", h.Topic, h.Category, h.Score, h.Trend)
		}
	} else {
		b.WriteString("No trending data has been collected yet.\n")
	}
	fmt.Fprintf(&b, "\nSuggest up to %d emerging topics likely to trend next. ", maxItems)
	b.WriteString("Respond with only a JSON array of objects with the fields ")
	b.WriteString(`"topic" (string), "category" (string), "confidence_score" (number between 0 and 1), `)
	b.WriteString(`"reasoning" (string) and "related_topics" (array of strings).`)
	return b.String()
}
