package internal

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for posted and due dates.
const DateLayout = "2006-01-02"

// Record is the canonical RFP entity. Records are built by the normalizer
// and passed around by value; nothing modifies a Record once it is in a Batch.
type Record struct {
	Title       string `json:"title" db:"title"`
	Agency      string `json:"agency" db:"agency"`
	PostedDate  string `json:"posted_date" db:"posted_date"`
	DueDate     string `json:"due_date" db:"due_date"`
	NoticeID    string `json:"notice_id" db:"notice_id"`
	Description string `json:"description" db:"description"`
	Source      string `json:"source" db:"source"`
	URL         string `json:"url" db:"url"`
	Simulated   bool   `json:"simulated,omitempty" db:"simulated"`
}

// Validate checks the Record invariants.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrRecordRejected)
	}
	if strings.TrimSpace(r.Agency) == "" {
		return fmt.Errorf("%w: agency missing", ErrRecordRejected)
	}
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("%w: source missing", ErrRecordRejected)
	}
	if strings.TrimSpace(r.NoticeID) == "" {
		return fmt.Errorf("%w: notice_id missing", ErrRecordRejected)
	}
	if _, err := time.Parse(DateLayout, r.PostedDate); err != nil {
		return fmt.Errorf("%w: posted_date %q is not a calendar date", ErrRecordRejected, r.PostedDate)
	}
	if r.DueDate != "" {
		if _, err := time.Parse(DateLayout, r.DueDate); err != nil {
			return fmt.Errorf("%w: due_date %q is not a calendar date", ErrRecordRejected, r.DueDate)
		}
	}
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url %q is not absolute", ErrRecordRejected, r.URL)
	}
	return nil
}

// Candidate is one raw record as extracted by a source adapter, before
// normalization. Title and Agency are required; every other field is
// optional and gets a default from the normalizer.
type Candidate struct {
	Title       string
	Agency      string
	URL         string
	PostedDate  string
	DueDate     string
	NoticeID    string
	Description string
	Simulated   bool
}

// SourceInfo identifies the source a candidate came from.
type SourceInfo struct {
	Name string
	// BaseURL resolves relative candidate URLs.
	BaseURL string
	// ListingURL is used when a candidate has no URL of its own.
	ListingURL string
}

// SourceReport holds per-source counters for one harvest run.
type SourceReport struct {
	Accepted   int     `json:"accepted"`
	Rejected   int     `json:"rejected"`
	Duplicates int     `json:"duplicates"`
	Error      *string `json:"error"`
	Simulated  bool    `json:"simulated,omitempty"`
	Incomplete bool    `json:"incomplete,omitempty"`
}

func (s *SourceReport) SetError(err error) {
	if err == nil {
		s.Error = nil
		return
	}
	msg := err.Error()
	s.Error = &msg
}

// Batch is the result of one harvest run: ordered records plus metadata.
type Batch struct {
	RunID       string
	CollectedAt time.Time
	Duplicates  int

	records []Record
	sources map[string]*SourceReport
	order   []string
}

// NewBatch creates an empty batch for a run started at collectedAt.
func NewBatch(runID string, collectedAt time.Time) *Batch {
	return &Batch{
		RunID:       runID,
		CollectedAt: collectedAt,
		sources:     make(map[string]*SourceReport),
	}
}

// Source returns the report for name, creating it on first use.
func (b *Batch) Source(name string) *SourceReport {
	if rep, ok := b.sources[name]; ok {
		return rep
	}
	rep := &SourceReport{}
	b.sources[name] = rep
	b.order = append(b.order, name)
	return rep
}

func (b *Batch) SourceNames() []string {
	return append([]string(nil), b.order...)
}

func (b *Batch) Append(r Record) {
	b.records = append(b.records, r)
}

func (b *Batch) Records() []Record {
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

func (b *Batch) Len() int {
	return len(b.records)
}

// Simulated reports whether any source produced simulated records.
func (b *Batch) Simulated() bool {
	for _, rep := range b.sources {
		if rep.Simulated {
			return true
		}
	}
	return false
}

// Artifact is the serialized form of a Batch.
type Artifact struct {
	CollectedAt time.Time               `json:"collected_at"`
	RunID       string                  `json:"run_id"`
	TotalRFPs   int                     `json:"total_rfps"`
	Duplicates  int                     `json:"duplicates"`
	Simulated   bool                    `json:"simulated"`
	Sources     map[string]SourceReport `json:"sources"`
	RFPs        []Record                `json:"rfps"`
}

// Artifact converts the batch into its serialized form.
func (b *Batch) Artifact() Artifact {
	sources := make(map[string]SourceReport, len(b.sources))
	for name, rep := range b.sources {
		sources[name] = *rep
	}
	return Artifact{
		CollectedAt: b.CollectedAt,
		RunID:       b.RunID,
		TotalRFPs:   len(b.records),
		Duplicates:  b.Duplicates,
		Simulated:   b.Simulated(),
		Sources:     sources,
		RFPs:        b.Records(),
	}
}

// SourceNames returns the artifact source names sorted alphabetically.
func (a Artifact) SourceNames() []string {
	names := make([]string, 0, len(a.Sources))
	for name := range a.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
