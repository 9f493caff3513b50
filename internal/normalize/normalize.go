// Package normalize turns fetched payloads into canonical, validated events.
package normalize

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

// draft is an extractor's output before provenance, ids and validation.
type draft struct {
	Event model.Event
	RawID string
}

type Option func(*Normalizer)

// WithLocation sets the zone for floating times and date-only values.
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.loc = loc
		}
	}
}

// WithHorizonDays limits how far recurring events are expanded.
func WithHorizonDays(days int) Option {
	return func(n *Normalizer) {
		if days > 0 {
			n.horizonDays = days
		}
	}
}

// WithClock overrides time.Now, which anchors the recurrence window.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

type Normalizer struct {
	sources     map[string]model.Source
	loc         *time.Location
	horizonDays int
	now         func() time.Time
}

// New builds a Normalizer. The catalog supplies declared types and
// fallback countries per source.
func New(sources []model.Source, opts ...Option) *Normalizer {
	n := &Normalizer{
		sources:     make(map[string]model.Source, len(sources)),
		loc:         time.UTC,
		horizonDays: 365,
		now:         time.Now,
	}
	for _, s := range sources {
		n.sources[s.ID] = s
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Stats summarizes one Normalize call.
type Stats struct {
	Raw        int // payloads seen
	Failed     int // payloads that could not be parsed at all
	Events     int // events accepted
	Dropped    int // records rejected by validation
	Duplicates int // records whose id was already emitted
}

// Normalize converts every payload. Unparseable payloads and invalid
// records are logged and skipped; ids in the result are unique.
func (n *Normalizer) Normalize(raws []model.RawEvent) ([]model.Event, Stats) {
	st := Stats{Raw: len(raws)}
	out := make([]model.Event, 0)
	seen := make(map[string]bool)

	for _, raw := range raws {
		events, dropped, err := n.NormalizeOne(raw)
		st.Dropped += dropped
		if err != nil {
			st.Failed++
			appLog.Error("payload skipped", err, "source", raw.SourceID)
			continue
		}
		for _, ev := range events {
			if seen[ev.ID] {
				st.Duplicates++
				appLog.Debug("duplicate id skipped", "source", raw.SourceID, "id", ev.ID, "title", ev.Title)
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
		appLog.Info("source normalized", "source", raw.SourceID, "events", len(events), "dropped", dropped)
	}

	st.Events = len(out)
	return out, st
}

// NormalizeOne converts a single payload. It returns the accepted events
// and how many records failed validation. The error is non-nil only when
// the payload itself could not be parsed.
func (n *Normalizer) NormalizeOne(raw model.RawEvent) ([]model.Event, int, error) {
	src := n.sources[raw.SourceID]

	var (
		drafts []draft
		err    error
	)
	switch kind := Kind(raw); kind {
	case model.SourceICS:
		drafts, err = n.extractICS(raw)
	case model.SourceRSS:
		drafts, err = n.extractFeed(raw)
	case model.SourceJSON:
		drafts, err = n.extractJSON(raw)
	case model.SourceHTML:
		drafts, err = n.extractHTML(raw)
	default:
		err = fmt.Errorf("cannot infer payload kind for source %q", raw.SourceID)
	}
	if err != nil {
		return nil, 0, err
	}

	events := make([]model.Event, 0, len(drafts))
	dropped := 0
	for _, d := range drafts {
		ev, verr := finalize(raw, src, d)
		if verr != nil {
			dropped++
			appLog.Warn("event dropped", "source", raw.SourceID, "title", d.Event.Title, "reason", verr.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, dropped, nil
}

// finalize attaches provenance and defaults, canonicalizes, derives the id
// and validates.
func finalize(raw model.RawEvent, src model.Source, d draft) (model.Event, error) {
	e := d.Event
	fetched := raw.FetchedAt.UTC()
	e.Source = model.SourceRef{ID: raw.SourceID, FetchedAt: fetched, RawID: d.RawID}
	e.LastSeenAt = fetched

	if e.Country == "" {
		e.Country = src.Country
	}
	e.Canonicalize()
	if len(e.Languages) == 0 {
		e.Languages = DefaultLanguages(e.Country)
	}

	e.ID = model.NewEventID(raw.SourceID, d.RawID, e.Title, e.StartsAt)
	return e, e.Validate()
}

// Kind picks the extractor for a payload: the declared type first, then
// a sniff of the payload, then hints in the source id.
func Kind(raw model.RawEvent) model.SourceType {
	switch raw.Type {
	case model.SourceICS, model.SourceMeetup:
		return model.SourceICS
	case model.SourceRSS, model.SourceAtom:
		return model.SourceRSS
	case model.SourceJSON:
		return model.SourceJSON
	case model.SourceHTML:
		return model.SourceHTML
	}

	head := bytes.TrimSpace([]byte(raw.Text()))
	if len(head) > 512 {
		head = head[:512]
	}
	lower := strings.ToLower(string(head))
	switch {
	case strings.HasPrefix(lower, "begin:vcalendar"):
		return model.SourceICS
	case strings.Contains(lower, "<rss"), strings.Contains(lower, "<feed"), strings.Contains(lower, "<rdf"):
		return model.SourceRSS
	case strings.HasPrefix(lower, "[") || strings.HasPrefix(lower, "{"):
		return model.SourceJSON
	case strings.Contains(lower, "<html"), strings.HasPrefix(lower, "<!doctype html"):
		return model.SourceHTML
	}

	id := strings.ToLower(raw.SourceID)
	switch {
	case strings.Contains(id, "meetup"), strings.Contains(id, "ics"):
		return model.SourceICS
	case strings.Contains(id, "rss"), strings.Contains(id, "atom"), strings.Contains(id, "feed"):
		return model.SourceRSS
	case strings.Contains(id, "json"):
		return model.SourceJSON
	}
	return ""
}
