// Package harvest runs every configured source adapter and merges their
// output into one deduplicated batch.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
	"github.com/tmshv/rfpharvest/metrics"
	"github.com/tmshv/rfpharvest/normalize"
	"github.com/tmshv/rfpharvest/source"
)

// Source is an adapter together with its own fetch timeout.
type Source struct {
	Adapter source.Adapter
	Timeout time.Duration
}

// Options control a harvest run.
type Options struct {
	Normalize      normalize.Options
	MaxConcurrency int
	RunDeadline    time.Duration
}

// Aggregator owns a harvest run. Only the goroutine calling Run touches
// the batch; adapters report back through a channel.
type Aggregator struct {
	sources []Source
	opts    Options
	log     *zap.Logger
	metrics *metrics.Harvest

	// Now and NewRunID can be replaced for reproducible runs.
	Now      func() time.Time
	NewRunID func() string
}

// New creates an aggregator over sources, processed in the given order.
func New(sources []Source, opts Options, log *zap.Logger, m *metrics.Harvest) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Aggregator{
		sources:  sources,
		opts:     opts,
		log:      log,
		metrics:  m,
		Now:      func() time.Time { return time.Now().UTC() },
		NewRunID: func() string { return uuid.NewString() },
	}
}

// NewFromConfig pairs adapters built from cfg.EnabledSources() with their
// configured timeouts.
func NewFromConfig(cfg *config.Config, adapters []source.Adapter, log *zap.Logger, m *metrics.Harvest) (*Aggregator, error) {
	enabled := cfg.EnabledSources()
	if len(enabled) != len(adapters) {
		return nil, fmt.Errorf("%w: %d adapters for %d enabled sources", internal.ErrConfig, len(adapters), len(enabled))
	}
	sources := make([]Source, len(adapters))
	for i, a := range adapters {
		sources[i] = Source{Adapter: a, Timeout: enabled[i].Timeout()}
	}
	opts := Options{
		Normalize: normalize.Options{
			MinTitleLength:      cfg.MinTitleLength,
			DescriptionMaxChars: cfg.DescriptionMaxChars,
		},
		MaxConcurrency: cfg.MaxConcurrency,
		RunDeadline:    cfg.RunDeadline(),
	}
	return New(sources, opts, log, m), nil
}

type outcome struct {
	index   int
	res     source.Result
	err     error
	elapsed time.Duration
}

// Run harvests every source once. It never fails as a whole: per-source
// problems are recorded in the batch source reports.
func (a *Aggregator) Run(ctx context.Context) *internal.Batch {
	started := a.Now()
	batch := internal.NewBatch(a.NewRunID(), started)
	log := a.log.With(zap.String("run_id", batch.RunID))

	infos := make([]internal.SourceInfo, len(a.sources))
	for i, s := range a.sources {
		infos[i] = s.Adapter.Info()
		batch.Source(infos[i].Name)
	}

	log.Info("Harvest started", zap.Int("sources", len(a.sources)))

	runCtx := ctx
	if a.opts.RunDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.opts.RunDeadline)
		defer cancel()
	}

	collected := a.collect(runCtx, infos)

	norm := normalize.New(a.opts.Normalize, started)
	m := newMerger(batch)
	for i, info := range infos {
		rep := batch.Source(info.Name)
		srcLog := log.With(zap.String("source", info.Name))

		o := collected[i]
		if o == nil {
			err := fmt.Errorf("%w: %s: run deadline exceeded", internal.ErrSourceUnavailable, info.Name)
			rep.Incomplete = true
			rep.SetError(err)
			a.metrics.ObserveError(info.Name, errorKind(err))
			srcLog.Warn("Source did not finish before the run deadline")
			continue
		}

		a.metrics.ObserveDuration(info.Name, o.elapsed)
		if o.err != nil {
			rep.SetError(o.err)
			a.metrics.ObserveError(info.Name, errorKind(o.err))
			srcLog.Warn("Source failed", zap.Error(o.err), zap.Int("candidates", len(o.res.Candidates)))
		}
		rep.Simulated = o.res.Simulated
		rep.Rejected += o.res.Skipped

		for _, c := range o.res.Candidates {
			rec, err := norm.Normalize(info, c)
			if err != nil {
				rep.Rejected++
				srcLog.Debug("Candidate rejected", zap.Error(err))
				continue
			}
			m.add(rec, rep, srcLog)
		}

		a.metrics.ObserveRecords(info.Name, metrics.OutcomeAccepted, rep.Accepted)
		a.metrics.ObserveRecords(info.Name, metrics.OutcomeRejected, rep.Rejected)
		a.metrics.ObserveRecords(info.Name, metrics.OutcomeDuplicate, rep.Duplicates)

		srcLog.Info("Source harvested",
			zap.Int("accepted", rep.Accepted),
			zap.Int("rejected", rep.Rejected),
			zap.Int("duplicates", rep.Duplicates),
			zap.Bool("simulated", rep.Simulated),
			zap.Duration("elapsed", o.elapsed),
		)
	}

	a.metrics.ObserveRun(started, batch.Len())
	log.Info("Harvest finished",
		zap.Int("records", batch.Len()),
		zap.Int("duplicates", batch.Duplicates),
		zap.Bool("simulated", batch.Simulated()),
	)
	return batch
}

// collect runs the adapters and returns their outcomes indexed like
// a.sources. Entries are nil for sources still running at the deadline.
func (a *Aggregator) collect(ctx context.Context, infos []internal.SourceInfo) []*outcome {
	results := make(chan outcome, len(a.sources))

	var g errgroup.Group
	g.SetLimit(a.opts.MaxConcurrency)
	go func() {
		for i, s := range a.sources {
			if ctx.Err() != nil {
				break
			}
			i, s := i, s
			g.Go(func() error {
				results <- a.fetch(ctx, i, infos[i].Name, s)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	collected := make([]*outcome, len(a.sources))
	for {
		select {
		case o, ok := <-results:
			if !ok {
				return collected
			}
			collected[o.index] = &o
		case <-ctx.Done():
			// keep whatever already arrived
			for {
				select {
				case o, ok := <-results:
					if !ok {
						return collected
					}
					collected[o.index] = &o
				default:
					return collected
				}
			}
		}
	}
}

func (a *Aggregator) fetch(ctx context.Context, index int, name string, s Source) (o outcome) {
	o.index = index
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.res = source.Result{}
			o.err = fmt.Errorf("%w: %s: adapter panic: %v", internal.ErrSourceMalformed, name, r)
			a.log.Error("Adapter panicked", zap.String("source", name), zap.Any("panic", r))
		}
		o.elapsed = time.Since(started)
	}()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	o.res, o.err = s.Adapter.Fetch(ctx)
	if o.err != nil && ctx.Err() != nil && !errors.Is(o.err, internal.ErrSourceUnavailable) {
		o.err = fmt.Errorf("%w: %s: %w", internal.ErrSourceUnavailable, name, o.err)
	}
	return o
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, internal.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, internal.ErrSourceMalformed):
		return "malformed"
	}
	return "other"
}

// merger applies the batch dedup rules: within a source a record is a
// duplicate when its notice id or its agency and case-folded title were
// already seen; a notice id owned by another source is a collision.
type merger struct {
	batch   *internal.Batch
	ids     map[string]struct{}
	titles  map[string]struct{}
	idOwner map[string]string
}

func newMerger(batch *internal.Batch) *merger {
	return &merger{
		batch:   batch,
		ids:     make(map[string]struct{}),
		titles:  make(map[string]struct{}),
		idOwner: make(map[string]string),
	}
}

func (m *merger) add(rec internal.Record, rep *internal.SourceReport, log *zap.Logger) {
	idKey := rec.Source + "\x00" + rec.NoticeID
	titleKey := rec.Source + "\x00" + rec.Agency + "\x00" + strings.ToLower(rec.Title)

	_, dupID := m.ids[idKey]
	_, dupTitle := m.titles[titleKey]
	if dupID || dupTitle {
		rep.Duplicates++
		m.batch.Duplicates++
		return
	}

	if owner, ok := m.idOwner[rec.NoticeID]; ok && owner != rec.Source {
		rep.Rejected++
		log.Warn("Notice id already used by another source",
			zap.String("notice_id", rec.NoticeID),
			zap.String("owner", owner),
			zap.String("title", rec.Title),
		)
		return
	}

	m.ids[idKey] = struct{}{}
	m.titles[titleKey] = struct{}{}
	m.idOwner[rec.NoticeID] = rec.Source
	m.batch.Append(rec)
	rep.Accepted++
}
