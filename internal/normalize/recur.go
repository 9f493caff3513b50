package normalize

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "cfpradar/internal/log"
)

const defaultMaxOccurrencesPerEvent = 500

// expandWindow bounds recurrence expansion. Non-recurring events are
// never filtered by it.
type expandWindow struct {
	Start time.Time
	End   time.Time

	// MaxOccurrences caps a single RRULE; zero means the default.
	MaxOccurrences int
}

// occurrence is one concrete instance of a VEVENT.
type occurrence struct {
	Event  vevent
	Start  time.Time
	End    time.Time
	HasEnd bool
	RawID  string
}

// expand resolves RRULE/EXDATE/RECURRENCE-ID into concrete occurrences,
// keeping the calendar's VEVENT order.
func expand(events []vevent, w expandWindow) []occurrence {
	if w.MaxOccurrences <= 0 {
		w.MaxOccurrences = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[string][]vevent)
	recurring := make(map[string]bool)
	for _, ev := range events {
		if ev.isOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else if ev.RawRRule != "" {
			recurring[ev.UID] = true
		}
	}

	out := make([]occurrence, 0, len(events))
	for _, ev := range events {
		if ev.isOverride() {
			// Overrides of a recurring base are applied during its
			// expansion; orphans stand on their own.
			if recurring[ev.UID] {
				continue
			}
			out = append(out, single(ev))
			continue
		}
		if ev.RawRRule == "" {
			out = append(out, single(ev))
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.UID], w)...)
	}
	return out
}

func single(ev vevent) occurrence {
	return occurrence{Event: ev, Start: ev.Start, End: ev.End, HasEnd: ev.HasEnd, RawID: ev.UID}
}

func expandRecurring(ev vevent, overrides []vevent, w expandWindow) []occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("rrule parse failed, keeping first instance", "uid", ev.UID, "rrule", ev.RawRRule, "reason", err.Error())
		return []occurrence{single(ev)}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	times := set.Between(w.Start.In(ev.Start.Location()), w.End.In(ev.Start.Location()), true)
	if len(times) > w.MaxOccurrences {
		appLog.Warn("rrule expansion truncated", "uid", ev.UID, "cap", w.MaxOccurrences)
		times = times[:w.MaxOccurrences]
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(times))
	for _, start := range times {
		occ := occurrence{
			Event:  ev,
			Start:  start,
			End:    start.Add(dur),
			HasEnd: ev.HasEnd,
			RawID:  ev.UID + "@" + start.UTC().Format(time.RFC3339),
		}
		if o, ok := findOverride(overrides, start); ok {
			occ.Event = o
			occ.Start, occ.End, occ.HasEnd = o.Start, o.End, o.HasEnd
		}
		out = append(out, occ)
	}
	return out
}

// findOverride finds the override whose RECURRENCE-ID equals start.
func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return vevent{}, false
}
