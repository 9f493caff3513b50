package normalize

import (
	"testing"

	"cfpradar/internal/model"
)

func TestNormalizeDeterministicIDs(t *testing.T) {
	raws := []model.RawEvent{
		icsRaw("python-buenos-aires",
			"BEGIN:VEVENT",
			"UID:a",
			"DTSTART:20251015T120000Z",
			"SUMMARY:Python Meetup",
			"URL:https://www.meetup.com/python-buenos-aires/events/a/",
			"END:VEVENT",
		),
	}
	first, _ := newTestNormalizer().Normalize(raws)
	second, _ := newTestNormalizer().Normalize(raws)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("lens = %d, %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("ids differ across runs: %s vs %s", first[0].ID, second[0].ID)
	}
	want := model.NewEventID("python-buenos-aires", "a", "Python Meetup", first[0].StartsAt)
	if first[0].ID != want {
		t.Errorf("id = %s, want %s", first[0].ID, want)
	}
}

func TestNormalizeIsolatesFailures(t *testing.T) {
	good := icsRaw("python-buenos-aires",
		"BEGIN:VEVENT",
		"UID:a",
		"DTSTART:20251015T120000Z",
		"SUMMARY:Python Meetup",
		"URL:https://www.meetup.com/python-buenos-aires/events/a/",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b",
		"DTSTART:20251016T120000Z",
		"SUMMARY:Sin link",
		"END:VEVENT",
	)
	broken := model.NewRawEvent(model.Source{ID: "curated", Type: model.SourceJSON}, []byte("{not json"), fixedNow)

	events, st := newTestNormalizer().Normalize([]model.RawEvent{broken, good, good})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if st.Raw != 3 || st.Failed != 1 || st.Dropped != 2 || st.Duplicates != 1 || st.Events != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		raw  model.RawEvent
		want model.SourceType
	}{
		{"declared meetup", model.RawEvent{Type: model.SourceMeetup}, model.SourceICS},
		{"declared atom", model.RawEvent{Type: model.SourceAtom}, model.SourceRSS},
		{"sniff ics", model.NewRawEvent(model.Source{ID: "x"}, []byte("BEGIN:VCALENDAR\r\n"), fixedNow), model.SourceICS},
		{"sniff rss", model.NewRawEvent(model.Source{ID: "x"}, []byte(`<?xml version="1.0"?><rss>`), fixedNow), model.SourceRSS},
		{"sniff json", model.NewRawEvent(model.Source{ID: "x"}, []byte(`[{"title":"a"}]`), fixedNow), model.SourceJSON},
		{"sniff html", model.NewRawEvent(model.Source{ID: "x"}, []byte("<!DOCTYPE html><html>"), fixedNow), model.SourceHTML},
		{"id hint", model.NewRawEvent(model.Source{ID: "gdg-meetup"}, []byte("???"), fixedNow), model.SourceICS},
		{"unknown", model.NewRawEvent(model.Source{ID: "x"}, []byte("???"), fixedNow), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.raw); got != tt.want {
				t.Errorf("Kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeUnknownKind(t *testing.T) {
	raw := model.NewRawEvent(model.Source{ID: "mystery"}, []byte("???"), fixedNow)
	if _, _, err := newTestNormalizer().NormalizeOne(raw); err == nil {
		t.Errorf("expected an error for an unrecognized payload")
	}
}
