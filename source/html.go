package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

var (
	rowSelector   = cascadia.MustCompile("tr")
	cellSelector  = cascadia.MustCompile("td, th")
	listSelector  = cascadia.MustCompile("ul li, ol li")
	blockSelector = cascadia.MustCompile("article, section")
	titleSelector = cascadia.MustCompile("a, h1, h2, h3, h4, strong")
	linkSelector  = cascadia.MustCompile("a[href]")

	datePattern = regexp.MustCompile(`\b(?:\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})\b`)
)

// minRowCells is the number of cells a table row needs to be a candidate.
const minRowCells = 3

// HTMLAdapter scrapes a rendered listing page.
//
// Extraction heuristic, applied in this order:
//  1. table rows with at least three td/th cells;
//  2. list items inside ul/ol;
//  3. article and section blocks.
//
// Configured selectors replace the heuristic; every match is then a block.
// Each element's title is its first a, h1-h4 or strong element, its URL the
// first a[href], and the first two dates in its text are the posted and due
// dates. Elements with an empty title or one shorter than the minimum title
// length are skipped. An element nested in, or wrapping, an element already
// selected is ignored.
type HTMLAdapter struct {
	cfg      config.SourceConfig
	fetcher  *Fetcher
	log      *zap.Logger
	minTitle int
	custom   []cascadia.Selector
}

func NewHTMLAdapter(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("html adapter needs a fetcher")
	}
	a := &HTMLAdapter{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		log:      deps.Logger,
		minTitle: deps.MinTitleLength,
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	for _, sel := range cfg.Selectors {
		compiled, err := cascadia.Compile(sel)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", sel, err)
		}
		a.custom = append(a.custom, compiled)
	}
	return a, nil
}

func (a *HTMLAdapter) Info() internal.SourceInfo {
	return internal.SourceInfo{Name: a.cfg.Name, BaseURL: a.cfg.BaseURL, ListingURL: a.cfg.ListingURL()}
}

func (a *HTMLAdapter) Fetch(ctx context.Context) (Result, error) {
	body, err := a.fetcher.Get(ctx, a.cfg.ListingURL(), a.cfg.Headers)
	if err != nil {
		return Result{}, fetchFailed(a.cfg.Name, err)
	}
	return a.Parse(body)
}

func (a *HTMLAdapter) Parse(body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, malformed(a.cfg.Name, err)
	}

	var res Result
	for _, el := range a.elements(doc) {
		c, ok := a.extract(el)
		if !ok {
			res.Skipped++
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}

	a.log.Debug("Parsed listing page",
		zap.String("source", a.cfg.Name),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (a *HTMLAdapter) elements(doc *goquery.Document) []*goquery.Selection {
	var out []*goquery.Selection
	add := func(el *goquery.Selection) {
		node := el.Get(0)
		for _, p := range out {
			if p.Get(0) == node || p.Contains(node) || el.Contains(p.Get(0)) {
				return
			}
		}
		out = append(out, el)
	}
	collect := func(s *goquery.Selection) {
		s.Each(func(_ int, el *goquery.Selection) {
			add(el)
		})
	}

	if len(a.custom) > 0 {
		for _, sel := range a.custom {
			collect(doc.FindMatcher(sel))
		}
		return out
	}

	doc.FindMatcher(rowSelector).Each(func(_ int, row *goquery.Selection) {
		if row.FindMatcher(cellSelector).Length() >= minRowCells {
			add(row)
		}
	})
	collect(doc.FindMatcher(listSelector))
	collect(doc.FindMatcher(blockSelector))
	return out
}

func (a *HTMLAdapter) extract(el *goquery.Selection) (internal.Candidate, bool) {
	title := collapse(el.FindMatcher(titleSelector).First().Text())
	if title == "" || utf8.RuneCountInString(title) < a.minTitle {
		return internal.Candidate{}, false
	}

	href, _ := el.FindMatcher(linkSelector).First().Attr("href")
	text := spacedText(el)
	dates := datePattern.FindAllString(text, 2)

	c := internal.Candidate{
		Title:       title,
		Agency:      a.cfg.Agency,
		URL:         strings.TrimSpace(href),
		Description: text,
	}
	if len(dates) > 0 {
		c.PostedDate = dates[0]
	}
	if len(dates) > 1 {
		c.DueDate = dates[1]
	}
	return c, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// spacedText joins the element's text nodes with spaces so adjacent cells
// do not run together.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				parts = append(parts, c.Text())
			case "script", "style", "#comment":
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return collapse(strings.Join(parts, " "))
}
