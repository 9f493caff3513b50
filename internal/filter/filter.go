// Package filter selects events the way the presentation layer's filter
// widgets do.
package filter

import (
	"slices"
	"strings"
	"time"

	"cfpradar/internal/model"
)

// Query is a conjunction of optional criteria. Zero values match
// everything. From and To are calendar dates ("2006-01-02"), inclusive.
type Query struct {
	Q           string
	Country     string
	City        string
	Format      model.Format
	Tracks      []string
	From        string
	To          string
	OnlyOpenCFP bool
}

const dateLayout = "2006-01-02"

// Apply returns the events matching q in their input order. now decides
// which CFPs are still open.
func Apply(events []model.Event, q Query, now time.Time) []model.Event {
	today := now.UTC().Format(dateLayout)
	text := strings.ToLower(strings.TrimSpace(q.Q))

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if text != "" && !strings.Contains(strings.ToLower(ev.Title+" "+ev.Description+" "+ev.City), text) {
			continue
		}
		if q.Country != "" && !strings.EqualFold(ev.Country, q.Country) {
			continue
		}
		if q.City != "" && ev.City != q.City {
			continue
		}
		if q.Format != "" && ev.Format != q.Format {
			continue
		}
		if len(q.Tracks) > 0 && !slices.ContainsFunc(q.Tracks, func(t string) bool { return slices.Contains(ev.Tracks, t) }) {
			continue
		}
		if !inRange(ev.StartsAt, q.From, q.To) {
			continue
		}
		if q.OnlyOpenCFP && (ev.CFPClosesAt == nil || ev.CFPClosesAt.UTC().Format(dateLayout) < today) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func inRange(start *time.Time, from, to string) bool {
	if from == "" && to == "" {
		return true
	}
	if start == nil {
		return false
	}
	day := start.UTC().Format(dateLayout)
	return (from == "" || day >= from) && (to == "" || day <= to)
}

// Cities lists the distinct non-empty cities, optionally within a country.
func Cities(events []model.Event, country string) []string {
	var out []string
	for _, ev := range events {
		if ev.City == "" || (country != "" && !strings.EqualFold(ev.Country, country)) {
			continue
		}
		out = append(out, ev.City)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Tracks lists the distinct tracks across events.
func Tracks(events []model.Event) []string {
	var out []string
	for _, ev := range events {
		out = append(out, ev.Tracks...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// DaysUntil is the number of days left before a CFP deadline, rounded up.
func DaysUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
