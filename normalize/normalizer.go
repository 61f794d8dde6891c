// Package normalize turns raw adapter candidates into canonical records.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/gosimple/slug"

	"github.com/tmshv/rfpharvest/internal"
	"github.com/tmshv/rfpharvest/utils"
)

const (
	ellipsis = "..."
	idHexLen = 12
)

type Options struct {
	MinTitleLength      int
	DescriptionMaxChars int
}

// Normalizer converts candidates of one harvest run. The harvest date is the
// default posted date for candidates that carry none.
type Normalizer struct {
	opts        Options
	harvestDate string
}

func New(opts Options, harvestStart time.Time) *Normalizer {
	return &Normalizer{
		opts:        opts,
		harvestDate: harvestStart.UTC().Format(internal.DateLayout),
	}
}

// Normalize builds a Record from c. The returned error wraps
// internal.ErrRecordRejected.
func (n *Normalizer) Normalize(src internal.SourceInfo, c internal.Candidate) (internal.Record, error) {
	title := collapse(c.Title)
	if title == "" {
		return internal.Record{}, fmt.Errorf("%w: empty title", internal.ErrRecordRejected)
	}
	if utf8.RuneCountInString(title) < n.opts.MinTitleLength {
		return internal.Record{}, fmt.Errorf("%w: title %q shorter than %d", internal.ErrRecordRejected, title, n.opts.MinTitleLength)
	}

	agency := collapse(c.Agency)
	if agency == "" {
		return internal.Record{}, fmt.Errorf("%w: agency missing for %q", internal.ErrRecordRejected, title)
	}

	link, err := n.resolveURL(src, c.URL)
	if err != nil {
		return internal.Record{}, fmt.Errorf("%w: url %q: %w", internal.ErrRecordRejected, c.URL, err)
	}

	posted, ok := ParseDate(c.PostedDate)
	if !ok {
		posted = n.harvestDate
	}
	due, _ := ParseDate(c.DueDate)

	noticeID := collapse(c.NoticeID)
	if noticeID == "" {
		noticeID = NoticeID(src.Name, title, posted)
	}

	rec := internal.Record{
		Title:       title,
		Agency:      agency,
		PostedDate:  posted,
		DueDate:     due,
		NoticeID:    noticeID,
		Description: Truncate(collapse(c.Description), n.opts.DescriptionMaxChars),
		Source:      src.Name,
		URL:         link,
		Simulated:   c.Simulated,
	}
	if err := rec.Validate(); err != nil {
		return internal.Record{}, err
	}
	return rec, nil
}

func (n *Normalizer) resolveURL(src internal.SourceInfo, ref string) (string, error) {
	base := src.BaseURL
	if base == "" {
		base = src.ListingURL
	}
	if strings.TrimSpace(ref) == "" {
		ref = src.ListingURL
	}
	return utils.ResolveURL(base, ref)
}

// ParseDate parses s in any common layout and returns it as YYYY-MM-DD.
// Ambiguous numeric dates are read month first.
func ParseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return "", false
	}
	return t.Format(internal.DateLayout), true
}

// NoticeID derives a stable identifier for a candidate without one.
func NoticeID(source, title, posted string) string {
	sum := sha256.Sum256([]byte(source + "|" + title + "|" + posted))
	return slug.Make(source) + "-" + hex.EncodeToString(sum[:])[:idHexLen]
}

// Truncate limits s to limit runes, ending in "..." when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string([]rune(s)[:limit])
	}
	return strings.TrimRight(string([]rune(s)[:limit-len(ellipsis)]), " ") + ellipsis
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
