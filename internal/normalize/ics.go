package normalize

import (
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

const untitled = "Evento sin título"

// vevent is the parsed form of one VEVENT before recurrence expansion.
type vevent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string

	Start   time.Time
	End     time.Time
	HasEnd  bool
	AllDay  bool
	StartTZ string

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides one instance
}

func (v vevent) isOverride() bool { return v.Recurrence != nil }

// parseCalendar parses an ICS payload. Malformed VEVENTs are logged and
// skipped; only an unreadable calendar is an error.
func parseCalendar(sourceID, body string, loc *time.Location) ([]vevent, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]vevent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "source", sourceID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "source", sourceID, "vevents", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var out vevent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.URL = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(dtStart, loc)
	if err != nil {
		return out, err
	}
	out.Start, out.AllDay = start, allDay
	out.StartTZ = param(dtStart, "TZID")

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, _, err := propTime(dtEnd, loc); err == nil {
			out.End, out.HasEnd = end, true
		}
	}
	if !out.HasEnd && out.AllDay {
		out.End, out.HasEnd = out.Start.AddDate(0, 0, 1), true
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// EXDATE can appear multiple times, each with a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		zone := zoneFor(p, loc)
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := parseICSTime(part, zone); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, _, err := propTime(p, loc); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

func param(p *ical.IANAProperty, name string) string {
	if p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// zoneFor resolves the TZID parameter of p, falling back to loc.
func zoneFor(p *ical.IANAProperty, loc *time.Location) *time.Location {
	if tz := param(p, "TZID"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			return l
		}
	}
	return loc
}

func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, allDay, err := parseICSTime(p.Value, zoneFor(p, loc))
	if strings.EqualFold(param(p, "VALUE"), "DATE") {
		allDay = true
	}
	return t, allDay, err
}

// parseICSTime parses a DATE or DATE-TIME value. Floating times and dates
// are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	}
	t, err := time.ParseInLocation("20060102", v, loc)
	return t, true, err
}

// extractICS turns a calendar payload into event drafts, one per expanded
// occurrence.
func (n *Normalizer) extractICS(raw model.RawEvent) ([]draft, error) {
	vevents, err := parseCalendar(raw.SourceID, raw.Text(), n.loc)
	if err != nil {
		return nil, err
	}

	now := n.now()
	occurrences := expand(vevents, expandWindow{
		Start: now.AddDate(0, 0, -1),
		End:   now.AddDate(0, 0, n.horizonDays),
	})

	drafts := make([]draft, 0, len(occurrences))
	for _, occ := range occurrences {
		drafts = append(drafts, icsDraft(occ))
	}
	return drafts, nil
}

func icsDraft(occ occurrence) draft {
	ev := occ.Event
	title := ev.Summary
	if title == "" {
		title = untitled
	}
	link := ev.URL
	if link == "" {
		link = FirstURL(ev.Description)
	}

	place := SplitLocation(ev.Location)
	e := model.Event{
		Title:       title,
		Description: ev.Description,
		URL:         link,
		StartsAt:    model.TimePtr(occ.Start),
		Timezone:    ev.StartTZ,
		Country:     place.Country,
		City:        place.City,
		Venue:       place.Venue,
		Format:      InferFormat(ev.Location),
		Tracks:      InferTracks(title + " " + ev.Description),
		Price:       model.PriceFree,
		Tags:        ev.Categories,
	}
	if occ.HasEnd {
		e.EndsAt = model.TimePtr(occ.End)
	}
	if IsCFP(title + " " + ev.Description) {
		e.CFPURL = link
		e.CFPClosesAt = e.EndsAt
	}
	return draft{Event: e, RawID: occ.RawID}
}
