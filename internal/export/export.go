// Package export renders events as an iCalendar feed.
package export

import (
	"time"

	ics "github.com/arran4/golang-ical"

	"cfpradar/internal/model"
	"cfpradar/internal/normalize"
)

const (
	ProductID = "-//CFP Radar LATAM//EN"
	uidSuffix = "@cfp-radar-latam"
)

var propCFPURL = ics.ComponentProperty("X-CFP-URL")

// FormatICSTime converts an ISO-8601 timestamp to the iCalendar UTC form,
// e.g. "2025-10-15T09:00:00.000Z" -> "20251015T090000Z". Unparseable input
// yields "".
func FormatICSTime(iso string) string {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return ""
	}
	return t.UTC().Format("20060102T150405Z")
}

// Calendar builds a VCALENDAR with one VEVENT per event that has a start
// time. now stamps every VEVENT.
func Calendar(events []model.Event, now time.Time) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ics.MethodPublish)

	for _, ev := range events {
		if ev.StartsAt == nil {
			continue
		}
		end := ev.StartsAt
		if ev.EndsAt != nil {
			end = ev.EndsAt
		}

		vev := cal.AddEvent(ev.ID + uidSuffix)
		vev.SetDtStampTime(now.UTC())
		vev.SetStartAt(ev.StartsAt.UTC())
		vev.SetEndAt(end.UTC())
		vev.SetSummary(ev.Title)
		vev.SetDescription(ev.Description + "\n\nMás información: " + ev.URL)
		if loc := location(ev); loc != "" {
			vev.SetLocation(loc)
		}
		vev.SetURL(ev.URL)
		if ev.CFPURL != "" {
			vev.SetProperty(propCFPURL, ev.CFPURL)
		}
		for _, t := range ev.Tracks {
			vev.AddCategory(t)
		}
	}
	return cal
}

// Serialize renders events straight to iCalendar text.
func Serialize(events []model.Event, now time.Time) string {
	return Calendar(events, now).Serialize()
}

func location(ev model.Event) string {
	if ev.City == "" {
		return ""
	}
	if ev.Country == "" {
		return ev.City
	}
	return ev.City + ", " + normalize.CountryName(ev.Country)
}
