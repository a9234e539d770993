package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/trendmind/trendmind/internal/models"
)

// Trend direction thresholds. The mean engagement of the most recent
// RecentWindow records is compared against the mean of all earlier records.
const (
	RisingRatio  = 1.2
	FallingRatio = 0.8
	RecentWindow = 3
)

// Score weights and multipliers.
const (
	FrequencyCap      = 1000.0
	FrequencyWeight   = 0.4
	EngagementWeight  = 0.6
	RisingMultiplier  = 1.3
	FallingMultiplier = 0.7
	MaxRelatedTopics  = 5
)

const ratioEpsilon = 1e-9

// TimeAnalysis describes when a topic's raw observations occurred.
type TimeAnalysis struct {
	PeakHours       []int    `json:"peak_hours"`
	TotalDataPoints int      `json:"total_data_points"`
	TimeSpanHours   float64  `json:"time_span_hours"`
	Sources         []string `json:"sources"`
}

// Scored is one deduplicated, scored topic group.
type Scored struct {
	Key             string
	Topic           string
	Category        string
	Score           float64
	EngagementScore float64
	Frequency       int
	Trend           models.TrendDirection
	TimeAnalysis    TimeAnalysis
	RelatedTopics   []string
	Sources         []string
	ObservedAt      time.Time
	Likes           int64
	Shares          int64
	Comments        int64
}

// Engine scores raw candidates.
type Engine struct {
	categories *CategoryTable
}

// NewEngine creates an engine; a nil table uses DefaultCategories.
func NewEngine(categories *CategoryTable) *Engine {
	if categories == nil {
		categories = DefaultCategories()
	}
	return &Engine{categories: categories}
}

type group struct {
	key   string
	cands []models.Candidate
}

// Score groups candidates by normalized topic and returns one Scored per
// group, highest score first. observedAt stamps every result and stands in
// for candidates without a timestamp.
func (e *Engine) Score(cands []models.Candidate, observedAt time.Time) []Scored {
	observedAt = observedAt.UTC()

	groups := make(map[string]*group)
	var order []string
	for _, c := range cands {
		key := models.NormalizeTopic(c.Topic)
		if key == "" {
			continue
		}
		if c.Timestamp.IsZero() {
			c.Timestamp = observedAt
		}
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.cands = append(g.cands, c)
	}

	out := make([]Scored, 0, len(order))
	for _, key := range order {
		out = append(out, e.scoreGroup(groups[key], observedAt))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	attachRelated(out)
	return out
}

func (e *Engine) scoreGroup(g *group, observedAt time.Time) Scored {
	sort.SliceStable(g.cands, func(i, j int) bool { return g.cands[i].Timestamp.Before(g.cands[j].Timestamp) })

	s := Scored{Key: g.key, ObservedAt: observedAt}
	engagement := make([]float64, len(g.cands))
	sources := make(map[string]struct{})
	supplied := ""
	var sum float64
	for i, c := range g.cands {
		s.Frequency += c.Frequency
		s.Likes += c.Likes
		s.Shares += c.Shares
		s.Comments += c.Comments
		engagement[i] = c.Engagement
		sum += c.Engagement
		if c.Source != "" {
			sources[c.Source] = struct{}{}
		}
		if supplied == "" {
			supplied = c.Category
		}
	}

	s.Topic = models.TruncateTopic(g.cands[0].Topic)
	s.EngagementScore = sum / float64(len(g.cands))
	s.Trend = Direction(engagement)
	s.Score = FinalScore(s.Frequency, s.EngagementScore, s.Trend)
	s.Category = e.categories.Categorize(g.key, supplied)

	for src := range sources {
		s.Sources = append(s.Sources, src)
	}
	sort.Strings(s.Sources)
	s.TimeAnalysis = analyzeTimes(g.cands, s.Sources)
	return s
}

// Direction labels an engagement series ordered oldest to newest. The last
// RecentWindow values are compared with every earlier value; a series with no
// earlier values is stable. Both thresholds are inclusive.
func Direction(engagement []float64) models.TrendDirection {
	if len(engagement) < 2 || len(engagement) <= RecentWindow {
		return models.TrendStable
	}
	split := len(engagement) - RecentWindow
	older := mean(engagement[:split])
	recent := mean(engagement[split:])

	if older <= 0 {
		if recent > 0 {
			return models.TrendRising
		}
		return models.TrendStable
	}
	switch {
	case recent >= RisingRatio*older-ratioEpsilon:
		return models.TrendRising
	case recent <= FallingRatio*older+ratioEpsilon:
		return models.TrendFalling
	default:
		return models.TrendStable
	}
}

// FinalScore combines frequency and engagement, applies the trend multiplier
// and clamps the result to [0,1].
func FinalScore(totalFrequency int, avgEngagement float64, trend models.TrendDirection) float64 {
	base := math.Min(float64(totalFrequency)/FrequencyCap, 1.0)*FrequencyWeight + avgEngagement*EngagementWeight
	switch trend {
	case models.TrendRising:
		base *= RisingMultiplier
	case models.TrendFalling:
		base *= FallingMultiplier
	}
	return clamp01(base)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func analyzeTimes(cands []models.Candidate, sources []string) TimeAnalysis {
	hours := make(map[int]int)
	for _, c := range cands {
		hours[c.Timestamp.UTC().Hour()]++
	}
	peak := make([]int, 0, len(hours))
	for h := range hours {
		peak = append(peak, h)
	}
	sort.Slice(peak, func(i, j int) bool {
		if hours[peak[i]] != hours[peak[j]] {
			return hours[peak[i]] > hours[peak[j]]
		}
		return peak[i] < peak[j]
	})
	if len(peak) > 3 {
		peak = peak[:3]
	}

	span := cands[len(cands)-1].Timestamp.Sub(cands[0].Timestamp).Hours()
	return TimeAnalysis{
		PeakHours:       peak,
		TotalDataPoints: len(cands),
		TimeSpanHours:   math.Round(span*100) / 100,
		Sources:         sources,
	}
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "of": {}, "in": {}, "to": {}, "a": {}, "an": {}, "on": {}, "with": {},
}

func contentWords(key string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range Tokenize(key) {
		if _, skip := stopWords[w]; !skip {
			words[w] = struct{}{}
		}
	}
	return words
}

// attachRelated links each result to up to MaxRelatedTopics other results
// sharing a content word. out must already be sorted by score.
func attachRelated(out []Scored) {
	words := make([]map[string]struct{}, len(out))
	for i := range out {
		words[i] = contentWords(out[i].Key)
	}
	for i := range out {
		related := []string{}
		for j := range out {
			if i == j || len(related) == MaxRelatedTopics {
				continue
			}
			if shares(words[i], words[j]) {
				related = append(related, out[j].Topic)
			}
		}
		out[i].RelatedTopics = related
	}
}

func shares(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; ok {
			return true
		}
	}
	return false
}

// SourceLabel joins sources into a single column value of at most max bytes.
func SourceLabel(sources []string, max int) string {
	if len(sources) == 0 {
		return models.DefaultSource
	}
	label := strings.Join(sources, ",")
	if len(label) > max {
		label = label[:max]
	}
	return label
}
