package newsweb

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Site describes where a page lives and how its headlines are marked up
type Site struct {
	Name        string
	URLTemplate string // %s = symbol
	LowerSymbol bool
	Selectors   []string // fallbacks, first match wins

	// DateLayout parses the first cell of the headline's table row.
	// Rows carrying only a time inherit the previous row's day.
	DateLayout string
	TimeLayout string
	Location   *time.Location
}

// URL renders the page address for symbol
func (s Site) URL(symbol string) string {
	if !strings.Contains(s.URLTemplate, "%s") {
		return s.URLTemplate
	}
	if s.LowerSymbol {
		symbol = strings.ToLower(symbol)
	}
	return fmt.Sprintf(s.URLTemplate, symbol)
}

// DefaultSites is the Yahoo → MarketWatch → Finviz chain
func DefaultSites() []Site {
	return []Site{
		{
			Name:        "Yahoo Finance",
			URLTemplate: "https://finance.yahoo.com/quote/%s",
			Selectors:   []string{`h3[class~="Mb(5px)"]`, "a.subtle-link", "section[data-test=news-stream] a"},
		},
		{
			Name:        "MarketWatch",
			URLTemplate: "https://www.marketwatch.com/investing/stock/%s",
			LowerSymbol: true,
			Selectors:   []string{"a.link"},
		},
		{
			Name:        "Finviz",
			URLTemplate: "https://finviz.com/quote.ashx?t=%s",
			Selectors:   []string{"table.fullview-news-outer tr a"},
			DateLayout:  "Jan-02-06 03:04PM",
			TimeLayout:  "03:04PM",
			Location:    easternTime(),
		},
	}
}

// MarketSite is the market-wide page whose headlines carry no ticker
func MarketSite() Site {
	return Site{
		Name:        "Yahoo Finance",
		URLTemplate: "https://finance.yahoo.com/topic/stock-market-news/",
		Selectors:   []string{`h3[class~="Mb(5px)"]`, "a.subtle-link", "section[data-test=news-stream] a"},
	}
}

// parseDate reads the row's date cell. It returns the parsed time (zero when
// unparseable) and the day to carry into the next row.
func (s Site) parseDate(item *goquery.Selection, lastDay time.Time) (time.Time, time.Time) {
	cell := strings.Join(strings.Fields(item.Closest("tr").Find("td").First().Text()), " ")
	if cell == "" {
		return time.Time{}, lastDay
	}

	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.ParseInLocation(s.DateLayout, cell, loc); err == nil {
		return t, time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}

	if s.TimeLayout != "" && !lastDay.IsZero() {
		if clock, err := time.ParseInLocation(s.TimeLayout, cell, loc); err == nil {
			t := time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
			return t, lastDay
		}
	}

	return time.Time{}, lastDay
}

func easternTime() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}
