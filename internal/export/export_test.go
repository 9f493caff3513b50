package export

import (
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"

	"cfpradar/internal/model"
)

func TestFormatICSTime(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2025-10-15T09:00:00.000Z", "20251015T090000Z"},
		{"2025-10-15T09:00:00Z", "20251015T090000Z"},
		{"2025-10-15T06:00:00-03:00", "20251015T090000Z"},
		{"mañana", ""},
	}
	for _, tt := range tests {
		if got := FormatICSTime(tt.in); got != tt.want {
			t.Errorf("FormatICSTime(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCalendar(t *testing.T) {
	start := time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)
	now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	events := []model.Event{
		{
			ID: "abc", Title: "Nerdearla", Description: "Conferencia", URL: "https://nerdear.la",
			CFPURL: "https://nerdear.la/cfp", StartsAt: &start, EndsAt: &end,
			City: "Buenos Aires", Country: "AR", Tracks: []string{"cloud", "devops"},
		},
		{ID: "no-end", Title: "Meetup", URL: "https://meetup.test", StartsAt: &start},
		{ID: "undated", Title: "Sin fecha", URL: "https://tbd.test"},
	}

	out := Serialize(events, now)
	for _, want := range []string{
		"PRODID:" + ProductID,
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"UID:abc@cfp-radar-latam",
		"DTSTART:20251015T090000Z",
		"DTEND:20251015T170000Z",
		"X-CFP-URL:https://nerdear.la/cfp",
		"URL:https://nerdear.la",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("calendar missing %q", want)
		}
	}
	if strings.Contains(out, "undated@cfp-radar-latam") {
		t.Errorf("undated event exported")
	}

	cal, err := ics.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	vevents := cal.Events()
	if len(vevents) != 2 {
		t.Fatalf("expected 2 VEVENTs, got %d", len(vevents))
	}
	first := vevents[0]
	if p := first.GetProperty(ics.ComponentPropertyLocation); p == nil || p.Value != "Buenos Aires, Argentina" {
		t.Errorf("location = %v", p)
	}
	if p := first.GetProperty(ics.ComponentPropertyDescription); p == nil || p.Value != "Conferencia\n\nMás información: https://nerdear.la" {
		t.Errorf("description = %v", p)
	}
	if p := vevents[1].GetProperty(ics.ComponentPropertyDtEnd); p == nil || p.Value != "20251015T090000Z" {
		t.Errorf("missing endsAt should reuse start, got %v", p)
	}
	if p := vevents[1].GetProperty(ics.ComponentPropertyLocation); p != nil {
		t.Errorf("location without city = %q", p.Value)
	}
}

func TestCalendarCFPProperty(t *testing.T) {
	start := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	events := []model.Event{{ID: "cfp", Title: "PyCon", URL: "https://a.test", CFPURL: "https://a.test/cfp", StartsAt: &start}}

	out := Serialize(events, start)
	if !strings.Contains(out, "\r\nX-CFP-URL:https://a.test/cfp\r\n") {
		t.Errorf("X-CFP-URL line missing:\n%s", out)
	}
	if strings.Contains(out, "X-X-") {
		t.Errorf("mangled extension property:\n%s", out)
	}

	cal, err := ics.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if p := cal.Events()[0].GetProperty(propCFPURL); p == nil || p.Value != "https://a.test/cfp" {
		t.Errorf("X-CFP-URL = %v", p)
	}
}
