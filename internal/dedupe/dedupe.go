// Package dedupe groups events that describe the same real-world listing
// and keeps one representative per group.
package dedupe

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"cfpradar/internal/config"
	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

// Deduper holds the grouping thresholds and the resolution policy.
type Deduper struct {
	resolution string
	threshold  float64
	cityWindow time.Duration
	trusted    []string
	loc        *time.Location
	dice       *metrics.SorensenDice
}

// New builds a Deduper from the dedupe section of the config. Calendar
// days for the title criterion are taken in loc.
func New(cfg config.DedupeConfig, loc *time.Location) *Deduper {
	if loc == nil {
		loc = time.UTC
	}
	dice := metrics.NewSorensenDice()
	dice.CaseSensitive = false
	dice.NgramSize = 2

	d := &Deduper{
		resolution: cfg.Resolution,
		threshold:  cfg.TitleSimilarity,
		cityWindow: cfg.CityWindow,
		trusted:    cfg.TrustedSources,
		loc:        loc,
		dice:       dice,
	}
	if d.resolution == "" {
		d.resolution = config.ResolutionPositive
	}
	if d.threshold <= 0 {
		d.threshold = 0.8
	}
	if d.cityWindow <= 0 {
		d.cityWindow = 24 * time.Hour
	}
	return d
}

// Stats summarizes one Deduplicate call.
type Stats struct {
	Input   int
	Groups  int
	Removed int
	Passes  int
}

// Deduplicate collapses duplicates and returns the survivors ordered by
// startsAt, undated events last. Passes repeat until one forms no group,
// so running it again on its own output is a no-op.
func (d *Deduper) Deduplicate(events []model.Event) ([]model.Event, Stats) {
	st := Stats{Input: len(events)}
	out := slices.Clone(events)
	for {
		st.Passes++
		groups := d.Groups(out)
		if len(groups) == 0 {
			break
		}
		st.Groups += len(groups)
		out = d.collapse(out, groups)
		appLog.Debug("dedupe pass", "pass", st.Passes, "groups", len(groups), "remaining", len(out))
	}
	SortByStart(out)
	st.Removed = st.Input - len(out)
	return out, st
}

// Groups runs a single grouping pass. Each group is a list of indices into
// events, seeded by its first member; only groups with two or more members
// are returned.
func (d *Deduper) Groups(events []model.Event) [][]int {
	processed := make([]bool, len(events))
	var groups [][]int
	for i := range events {
		if processed[i] {
			continue
		}
		processed[i] = true
		group := []int{i}
		for j := i + 1; j < len(events); j++ {
			if processed[j] {
				continue
			}
			if d.Match(events[i], events[j]) {
				processed[j] = true
				group = append(group, j)
			}
		}
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

// Match reports whether b duplicates a under any grouping criterion.
func (d *Deduper) Match(a, b model.Event) bool {
	if a.URL != "" && a.URL == b.URL {
		return true
	}
	if d.TitleSimilarity(a.Title, b.Title) > d.threshold && d.sameDay(a.StartsAt, b.StartsAt) {
		return true
	}
	if a.City != "" && a.City == b.City && a.StartsAt != nil && b.StartsAt != nil {
		delta := a.StartsAt.Sub(*b.StartsAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= d.cityWindow {
			return true
		}
	}
	return false
}

// TitleSimilarity is the Sørensen–Dice bigram coefficient of the two titles
// with whitespace removed, ignoring case.
func (d *Deduper) TitleSimilarity(a, b string) float64 {
	a, b = stripSpace(a), stripSpace(b)
	if a == "" && b == "" {
		return 1
	}
	if len([]rune(a)) < 2 || len([]rune(b)) < 2 {
		return 0
	}
	return strutil.Similarity(a, b, d.dice)
}

func (d *Deduper) sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	ay, am, ad := a.In(d.loc).Date()
	by, bm, bd := b.In(d.loc).Date()
	return ay == by && am == bm && ad == bd
}

// collapse replaces every group with its representative. Events outside
// any group keep their relative order and come first.
func (d *Deduper) collapse(events []model.Event, groups [][]int) []model.Event {
	grouped := make([]bool, len(events))
	reps := make([]model.Event, 0, len(groups))
	for _, g := range groups {
		members := make([]model.Event, len(g))
		for k, idx := range g {
			grouped[idx] = true
			members[k] = events[idx]
		}
		best := d.Resolve(members)
		appLog.Debug("duplicates resolved", "kept", best.ID, "title", best.Title, "members", len(g))
		reps = append(reps, best)
	}

	out := make([]model.Event, 0, len(events)-len(groups))
	for i, ev := range events {
		if !grouped[i] {
			out = append(out, ev)
		}
	}
	return append(out, reps...)
}

// Resolve walks the group in order and returns the event that survives.
func (d *Deduper) Resolve(group []model.Event) model.Event {
	best := group[0]
	for _, cur := range group[1:] {
		score := d.Score(cur, best)
		switch d.resolution {
		case config.ResolutionHighest:
			if score > d.Score(best, cur) {
				best = cur
			}
		default:
			if score > 0 {
				best = cur
			}
		}
	}
	return best
}

// Score rates how complete and trustworthy ev is. The recency point is
// earned when ev was seen strictly later than other.
func (d *Deduper) Score(ev, other model.Event) int {
	score := 0
	if ev.Description != "" {
		score++
	}
	if ev.URL != "" {
		score++
	}
	if ev.CFPURL != "" {
		score += 2
	}
	if ev.Venue != "" {
		score++
	}
	if len(ev.Tracks) > 0 {
		score++
	}
	for _, t := range d.trusted {
		if t != "" && strings.Contains(ev.Source.ID, t) {
			score += 2
		}
	}
	if ev.LastSeenAt.After(other.LastSeenAt) {
		score++
	}
	return score
}

// SortByStart orders events by startsAt ascending, undated last. The sort
// is stable.
func SortByStart(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		switch {
		case a.StartsAt == nil && b.StartsAt == nil:
			return 0
		case a.StartsAt == nil:
			return 1
		case b.StartsAt == nil:
			return -1
		}
		return a.StartsAt.Compare(*b.StartsAt)
	})
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
