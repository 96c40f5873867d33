// Package newsweb scrapes ticker headlines from public finance pages.
package newsweb

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/external"
	"github.com/wonny/finpipe/pkg/httputil"
	"github.com/wonny/finpipe/pkg/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config holds scraper settings
type Config struct {
	Symbols           []string
	MaxHeadlines      int
	MinTitleLength    int
	IncludeMarket     bool
	UserAgent         string
	RequestsPerSecond float64
	Sites             []Site // tried in order, first site with headlines wins
	Market            Site
}

// Scraper is the NEWS source adapter
// ⭐ SSOT: 뉴스 HTML 스크래핑은 여기서만
type Scraper struct {
	httpClient *httputil.Client
	cfg        Config
	logger     *logger.Logger
	now        func() time.Time
}

// Headline is one scraped article link
type Headline struct {
	Title       string
	URL         string
	Publisher   string
	PublishedAt time.Time // zero when the page carries no date
}

// NewScraper creates a scraper. Zero-valued options fall back to the default site chain.
func NewScraper(httpClient *httputil.Client, cfg Config, log *logger.Logger) *Scraper {
	if cfg.MaxHeadlines <= 0 {
		cfg.MaxHeadlines = 10
	}
	if cfg.MinTitleLength <= 0 {
		cfg.MinTitleLength = 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if len(cfg.Sites) == 0 {
		cfg.Sites = DefaultSites()
	}
	if cfg.Market.URLTemplate == "" {
		cfg.Market = MarketSite()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Scraper{
		httpClient: httpClient.
			WithHeader("User-Agent", cfg.UserAgent).
			WithLimiter(rate.NewLimiter(limit, 1)),
		cfg:    cfg,
		logger: log.WithField("module", "newsweb"),
		now:    time.Now,
	}
}

// Source implements contracts.SourceAdapter
func (s *Scraper) Source() contracts.SourceID {
	return contracts.SourceNews
}

// Fetch yields the headlines of every configured symbol, then the market page.
// Dated headlines older than since are skipped.
func (s *Scraper) Fetch(ctx context.Context, since time.Time) iter.Seq2[contracts.RawRecord, error] {
	return func(yield func(contracts.RawRecord, error) bool) {
		targets := s.cfg.Symbols
		if s.cfg.IncludeMarket {
			targets = append(append([]string{}, targets...), "")
		}

		for _, symbol := range targets {
			headlines, err := s.Headlines(ctx, symbol)
			if err != nil {
				yield(contracts.RawRecord{}, err)
				return
			}

			fetchAt := s.now().UTC()
			for _, h := range headlines {
				if !h.PublishedAt.IsZero() && h.PublishedAt.Before(since) {
					continue
				}
				if !yield(h.record(symbol, fetchAt), nil) {
					return
				}
			}
		}
	}
}

// Headlines walks the site chain for symbol ("" = market page).
// Fails only when every site failed.
func (s *Scraper) Headlines(ctx context.Context, symbol string) ([]Headline, error) {
	sites := s.cfg.Sites
	if symbol == "" {
		sites = []Site{s.cfg.Market}
	}

	var lastErr error
	failures := 0
	for _, site := range sites {
		headlines, err := s.Scrape(ctx, site, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			lastErr = err
			s.logger.WithFields(map[string]interface{}{
				"site":   site.Name,
				"symbol": symbol,
				"error":  err.Error(),
			}).Warn("News site failed, trying next")
			continue
		}
		if len(headlines) > 0 {
			return headlines, nil
		}
	}

	if failures == len(sites) && lastErr != nil {
		return nil, external.Classify(contracts.SourceNews, lastErr)
	}

	s.logger.WithField("symbol", symbol).Warn("No headlines found on any site")
	return nil, nil
}

// Scrape fetches one site page and extracts its headlines
func (s *Scraper) Scrape(ctx context.Context, site Site, symbol string) ([]Headline, error) {
	pageURL := site.URL(symbol)
	body, err := s.httpClient.GetBody(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, contracts.SchemaChanged(contracts.SourceNews, fmt.Errorf("parse %s: %w", pageURL, err))
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	return s.extract(doc, site, base), nil
}

// extract applies the site's selectors in order and uses the first one that matches anything
func (s *Scraper) extract(doc *goquery.Document, site Site, base *url.URL) []Headline {
	var headlines []Headline
	seen := map[string]bool{}

	for _, selector := range site.Selectors {
		items := doc.Find(selector)
		if items.Length() == 0 {
			continue
		}

		var lastDay time.Time
		items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
			title := strings.Join(strings.Fields(item.Text()), " ")
			href := item.AttrOr("href", "")
			if href == "" {
				href = item.Find("a").First().AttrOr("href", "")
			}

			var published time.Time
			if site.DateLayout != "" {
				published, lastDay = site.parseDate(item, lastDay)
			}

			if len(title) < s.cfg.MinTitleLength || href == "" {
				return true
			}

			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				return true
			}
			link := base.ResolveReference(ref).String()
			if seen[link] {
				return true
			}
			seen[link] = true

			headlines = append(headlines, Headline{
				Title:       title,
				URL:         link,
				Publisher:   site.Name,
				PublishedAt: published,
			})
			return len(headlines) < s.cfg.MaxHeadlines
		})

		if len(headlines) > 0 {
			break
		}
	}

	return headlines
}

func (h Headline) record(symbol string, fetchAt time.Time) contracts.RawRecord {
	observed := h.PublishedAt
	if observed.IsZero() {
		observed = fetchAt
	}
	return contracts.RawRecord{
		Source:     contracts.SourceNews,
		Symbol:     symbol,
		ObservedAt: observed.UTC(),
		FetchAt:    fetchAt,
		Payload: map[string]string{
			contracts.FieldHeadline:  h.Title,
			contracts.FieldURL:       h.URL,
			contracts.FieldPublisher: h.Publisher,
		},
	}
}
