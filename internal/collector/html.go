package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/pkg/config"
)

// HTMLCollector scrapes topic titles from a page with a CSS selector. Rank on
// the page stands in for engagement: the first entry scores 1 and the score
// decays linearly down the list.
type HTMLCollector struct {
	name      string
	url       string
	selector  string
	category  string
	userAgent string
	client    *http.Client
	now       func() time.Time
}

// NewHTMLCollector wires an HTTP client; a nil client gets a 20s timeout.
func NewHTMLCollector(cfg config.HTMLSourceConfig, userAgent string, client *http.Client) *HTMLCollector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = "trendmind/1.0"
	}
	return &HTMLCollector{
		name:      cfg.Name,
		url:       cfg.URL,
		selector:  cfg.Selector,
		category:  cfg.Category,
		userAgent: userAgent,
		client:    client,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the source.
func (h *HTMLCollector) Name() string {
	return h.name
}

// Fetch downloads the page and returns up to limit candidates.
func (h *HTMLCollector) Fetch(ctx context.Context, limit int) ([]models.Candidate, error) {
	doc, err := h.fetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return h.extract(doc, limit), nil
}

func (h *HTMLCollector) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", h.name, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (h *HTMLCollector) extract(doc *goquery.Document, limit int) []models.Candidate {
	var (
		order  []string
		counts = map[string]int{}
		titles = map[string]string{}
	)
	doc.Find(h.selector).Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		key := models.NormalizeTopic(text)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			titles[key] = text
		}
		counts[key]++
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}

	observed := h.now()
	out := make([]models.Candidate, 0, len(order))
	for rank, key := range order {
		out = append(out, models.Candidate{
			Topic:      models.TruncateTopic(titles[key]),
			Engagement: 1 - float64(rank)/float64(len(order)),
			Frequency:  counts[key],
			Category:   h.category,
			Timestamp:  observed,
			Source:     h.name,
		})
	}
	return out
}
