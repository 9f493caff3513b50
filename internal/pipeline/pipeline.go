// Package pipeline wires the batch stages together: collect, normalize,
// dedupe, partition and validate. Each stage reads the previous stage's
// artifact so stages can also run on their own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"cfpradar/internal/catalog"
	"cfpradar/internal/config"
	"cfpradar/internal/dedupe"
	"cfpradar/internal/fetch"
	appLog "cfpradar/internal/log"
	"cfpradar/internal/metrics"
	"cfpradar/internal/model"
	"cfpradar/internal/normalize"
	"cfpradar/internal/partition"
	"cfpradar/internal/store"
)

// ErrRawMissing is returned by Normalize when Collect has not produced
// its artifact yet.
var ErrRawMissing = errors.New("raw events artifact missing; run collect first")

type Option func(*Pipeline)

// WithRenderer enables headless rendering for HTML sources flagged render.
func WithRenderer(r fetch.Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// WithHTTPClient replaces the fetcher's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

// WithClock overrides time.Now for fetch timestamps and recurrence windows.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMetrics records run statistics into m. Without it, metrics are only
// kept when metrics_file is configured.
func WithMetrics(m *metrics.Run) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline runs the stages for one configuration and catalog.
type Pipeline struct {
	cfg      *config.Config
	loc      *time.Location
	now      func() time.Time
	renderer fetch.Renderer
	client   *http.Client
	metrics  *metrics.Run

	mu      sync.Mutex
	sources []model.Source
}

// New builds a pipeline. The catalog is copied; Collect updates the copy's
// fetch bookkeeping.
func New(cfg *config.Config, sources []model.Source, opts ...Option) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := &Pipeline{
		cfg:     cfg,
		loc:     cfg.Location(),
		now:     time.Now,
		sources: slices.Clone(sources),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil && cfg.MetricsFile != "" {
		p.metrics = metrics.New()
	}
	return p
}

// Sources returns a snapshot of the catalog with the latest fetch state.
func (p *Pipeline) Sources() []model.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sources)
}

func (p *Pipeline) dataPath(name string) string {
	return filepath.Join(p.cfg.DataDir, name)
}

// Fetcher builds the fetcher used by Collect and by `sources check`.
func (p *Pipeline) Fetcher() *fetch.Fetcher {
	opts := []fetch.Option{fetch.WithClock(p.now)}
	if p.renderer != nil {
		opts = append(opts, fetch.WithRenderer(p.renderer))
	}
	if p.client != nil {
		opts = append(opts, fetch.WithHTTPClient(p.client))
	}
	return fetch.New(p.cfg.Fetch, p.dataPath(store.RawDir), opts...)
}

// CollectReport summarizes a Collect run.
type CollectReport struct {
	Sources   int
	Succeeded int
	Failed    int
	Results   []fetch.Result
}

// Collect fetches every enabled source, records fetch state on the catalog
// and writes the raw events artifact.
func (p *Pipeline) Collect(ctx context.Context) (CollectReport, error) {
	defer p.observe("collect", time.Now())

	enabled := catalog.Enabled(p.Sources())
	appLog.Info("collect start", "sources", len(enabled), "workers", p.cfg.Fetch.Workers)

	results, err := p.Fetcher().FetchAll(ctx, enabled)
	if err != nil {
		return CollectReport{}, fmt.Errorf("collect: %w", err)
	}

	rep := CollectReport{Sources: len(enabled), Results: results}
	for _, r := range results {
		if r.OK() {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
		if p.metrics != nil {
			p.metrics.ObserveFetch(r.Source.ID, r.OK(), r.Attempts, r.Elapsed)
		}
	}

	if err := p.recordFetchState(results); err != nil {
		return rep, err
	}

	raws := fetch.Raws(results)
	if err := store.WriteJSON(p.dataPath(store.RawEventsFile), raws); err != nil {
		return rep, fmt.Errorf("collect: write %s: %w", store.RawEventsFile, err)
	}
	if p.metrics != nil {
		p.metrics.SetEvents("raw", len(raws))
	}
	appLog.Info("collect done", "succeeded", rep.Succeeded, "failed", rep.Failed)
	return rep, nil
}

// recordFetchState stamps lastFetched on every attempted source, sets or
// clears lastError, and saves the catalog when it is file-backed.
func (p *Pipeline) recordFetchState(results []fetch.Result) error {
	p.mu.Lock()
	idx := make(map[string]int, len(p.sources))
	for i, s := range p.sources {
		idx[s.ID] = i
	}
	for _, r := range results {
		i, ok := idx[r.Source.ID]
		if !ok {
			continue
		}
		src := &p.sources[i]
		if r.OK() {
			src.LastFetched = model.TimePtr(r.Raw.FetchedAt)
			src.LastError = ""
		} else {
			src.LastFetched = model.TimePtr(r.Error.Timestamp)
			src.LastError = r.Error.Error
		}
	}
	snapshot := slices.Clone(p.sources)
	p.mu.Unlock()

	if p.cfg.SourcesFile == "" {
		return nil
	}
	if err := catalog.Save(p.cfg.SourcesFile, snapshot); err != nil {
		return fmt.Errorf("collect: save catalog: %w", err)
	}
	return nil
}

// Normalize converts the raw artifact into canonical events.
func (p *Pipeline) Normalize() (normalize.Stats, error) {
	defer p.observe("normalize", time.Now())

	var raws []model.RawEvent
	if err := store.ReadJSON(p.dataPath(store.RawEventsFile), &raws); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return normalize.Stats{}, fmt.Errorf("normalize: %w", ErrRawMissing)
		}
		return normalize.Stats{}, fmt.Errorf("normalize: %w", err)
	}

	n := normalize.New(p.Sources(),
		normalize.WithLocation(p.loc),
		normalize.WithHorizonDays(p.cfg.Normalization.HorizonDays),
		normalize.WithClock(p.now),
	)
	events, st := n.Normalize(raws)

	if err := store.WriteJSON(p.dataPath(store.NormalizedEventsFile), events); err != nil {
		return st, fmt.Errorf("normalize: write %s: %w", store.NormalizedEventsFile, err)
	}
	if p.metrics != nil {
		p.metrics.SetEvents("normalized", st.Events)
		p.metrics.SetEvents("dropped", st.Dropped)
	}
	appLog.Info("normalize done", "raw", st.Raw, "failed", st.Failed, "events", st.Events, "dropped", st.Dropped, "duplicates", st.Duplicates)
	return st, nil
}

// Dedupe collapses duplicates in the normalized artifact and writes the
// canonical events artifact.
func (p *Pipeline) Dedupe() (dedupe.Stats, error) {
	defer p.observe("dedupe", time.Now())

	var events []model.Event
	if err := store.ReadJSON(p.dataPath(store.NormalizedEventsFile), &events); err != nil {
		return dedupe.Stats{}, fmt.Errorf("dedupe: %w", err)
	}

	out, st := dedupe.New(p.cfg.Dedupe, p.loc).Deduplicate(events)
	if err := store.WriteJSON(p.dataPath(store.EventsFile), out); err != nil {
		return st, fmt.Errorf("dedupe: write %s: %w", store.EventsFile, err)
	}
	if p.metrics != nil {
		p.metrics.SetEvents("duplicates", st.Removed)
		p.metrics.SetEvents("final", len(out))
	}
	appLog.Info("dedupe done", "input", st.Input, "groups", st.Groups, "removed", st.Removed, "passes", st.Passes)
	return st, nil
}

// Partition writes the public artifacts from the canonical events.
func (p *Pipeline) Partition() (partition.Monthly, error) {
	defer p.observe("partition", time.Now())

	events, err := p.Events()
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	months, err := partition.Write(p.cfg.PublicDir, events, p.loc)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if p.metrics != nil {
		p.metrics.SetMonths(len(months))
	}
	return months, nil
}

// Events reads the canonical events artifact.
func (p *Pipeline) Events() ([]model.Event, error) {
	var events []model.Event
	if err := store.ReadJSON(p.dataPath(store.EventsFile), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ValidationReport summarizes a Validate run.
type ValidationReport struct {
	Checked int
	Invalid []model.InvalidEvent
}

// Validate re-checks the canonical artifact against the schema and id
// uniqueness and writes the rejects to the invalid events artifact. The
// error wraps model.ErrInvalidEvent when any record fails.
func (p *Pipeline) Validate() (ValidationReport, error) {
	defer p.observe("validate", time.Now())

	events, err := p.Events()
	if err != nil {
		return ValidationReport{}, fmt.Errorf("validate: %w", err)
	}

	rep := ValidationReport{Checked: len(events), Invalid: []model.InvalidEvent{}}
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		reasons := ev.Problems()
		if ev.ID != "" && seen[ev.ID] {
			reasons = append(reasons, fmt.Sprintf("id %s is not unique", ev.ID))
		}
		seen[ev.ID] = true
		if len(reasons) > 0 {
			rep.Invalid = append(rep.Invalid, model.InvalidEvent{Event: ev, Reasons: reasons})
			appLog.Warn("invalid event", "id", ev.ID, "title", ev.Title, "source", ev.Source.ID, "reasons", len(reasons))
		}
	}

	if err := store.WriteJSON(p.dataPath(store.InvalidEventsFile), rep.Invalid); err != nil {
		return rep, fmt.Errorf("validate: write %s: %w", store.InvalidEventsFile, err)
	}
	if p.metrics != nil {
		p.metrics.SetEvents("invalid", len(rep.Invalid))
	}
	if len(rep.Invalid) > 0 {
		return rep, fmt.Errorf("validate: %d of %d events: %w", len(rep.Invalid), rep.Checked, model.ErrInvalidEvent)
	}
	appLog.Info("validate done", "checked", rep.Checked)
	return rep, nil
}

// Run executes every stage in order and stops at the first fatal error.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if p.metrics == nil {
			return
		}
		p.metrics.ObserveStage("run", time.Since(start))
		p.metrics.RunFinished(err, p.now())
		if p.cfg.MetricsFile == "" {
			return
		}
		if werr := p.metrics.WriteFile(p.cfg.MetricsFile); werr != nil {
			appLog.Error("metrics write failed", werr, "path", p.cfg.MetricsFile)
		}
	}()

	if _, err = p.Collect(ctx); err != nil {
		return err
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"normalize", func() error { _, err := p.Normalize(); return err }},
		{"dedupe", func() error { _, err := p.Dedupe(); return err }},
		{"partition", func() error { _, err := p.Partition(); return err }},
		{"validate", func() error { _, err := p.Validate(); return err }},
	}
	for _, s := range steps {
		if err = ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if err = s.fn(); err != nil {
			return err
		}
	}
	appLog.Info("pipeline run complete", "elapsed", time.Since(start).Round(time.Millisecond).String())
	return nil
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveStage(stage, time.Since(start))
	}
}
