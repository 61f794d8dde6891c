package source

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

// FeedAdapter reads an RSS or Atom feed of procurement notices.
type FeedAdapter struct {
	cfg       config.SourceConfig
	fetcher   *Fetcher
	log       *zap.Logger
	converter *md.Converter
}

func NewFeedAdapter(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("rss adapter needs a fetcher")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedAdapter{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		log:       log,
		converter: md.NewConverter("", true, nil),
	}, nil
}

func (a *FeedAdapter) Info() internal.SourceInfo {
	return internal.SourceInfo{Name: a.cfg.Name, BaseURL: a.cfg.BaseURL, ListingURL: a.cfg.ListingURL()}
}

func (a *FeedAdapter) Fetch(ctx context.Context) (Result, error) {
	body, err := a.fetcher.Get(ctx, a.cfg.ListingURL(), a.cfg.Headers)
	if err != nil {
		return Result{}, fetchFailed(a.cfg.Name, err)
	}
	return a.Parse(string(body))
}

func (a *FeedAdapter) Parse(body string) (Result, error) {
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return Result{}, malformed(a.cfg.Name, err)
	}

	var res Result
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		c := internal.Candidate{
			Title:    item.Title,
			Agency:   a.cfg.Agency,
			URL:      item.Link,
			NoticeID: strings.TrimSpace(item.GUID),
		}
		if c.Agency == "" && item.Author != nil {
			c.Agency = item.Author.Name
		}
		if c.Agency == "" {
			c.Agency = feed.Title
		}
		switch {
		case item.PublishedParsed != nil:
			c.PostedDate = item.PublishedParsed.Format(internal.DateLayout)
		case item.UpdatedParsed != nil:
			c.PostedDate = item.UpdatedParsed.Format(internal.DateLayout)
		}

		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		c.Description = a.htmlToText(desc)

		res.Candidates = append(res.Candidates, c)
	}

	a.log.Debug("Parsed feed",
		zap.String("source", a.cfg.Name),
		zap.String("feed", feed.Title),
		zap.Int("candidates", len(res.Candidates)),
	)
	return res, nil
}

func (a *FeedAdapter) htmlToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	text, err := a.converter.ConvertString(s)
	if err != nil {
		return s
	}
	return text
}
