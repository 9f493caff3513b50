package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cfpradar/internal/catalog"
	"cfpradar/internal/config"
	"cfpradar/internal/model"
	"cfpradar/internal/partition"
	"cfpradar/internal/store"
)

var clock = time.Date(2025, 9, 1, 6, 0, 0, 0, time.UTC)

const meetupICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-1@meetup.com\r\n" +
	"DTSTART:20251015T220000Z\r\n" +
	"SUMMARY:Python Buenos Aires: Django\r\n" +
	"URL:https://www.meetup.com/python-buenos-aires/events/1/\r\n" +
	"LOCATION:Buenos Aires\\, Argentina\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const curatedJSON = `[
  {"id": "py-1", "title": "Django Day Buenos Aires", "url": "https://www.meetup.com/python-buenos-aires/events/1/",
   "startsAt": "2025-10-15T22:00:00Z", "country": "AR", "description": "Charlas de Django"},
  {"title": "Nerdearla 2025", "url": "https://nerdear.la", "startsAt": "2025-11-20T12:00:00Z",
   "country": "AR", "city": "Buenos Aires", "cfpClosesAt": "2025-09-30"}
]`

type env struct {
	cfg     *config.Config
	sources []model.Source
	srv     *httptest.Server
}

func setup(t *testing.T) env {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/python-buenos-aires/events/ical/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(meetupICS))
	})
	mux.HandleFunc("/curated.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(curatedJSON))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.PublicDir = filepath.Join(dir, "public")
	cfg.SourcesFile = filepath.Join(dir, "sources.json")
	cfg.MetricsFile = filepath.Join(dir, "cfpradar.prom")
	cfg.Fetch.RetryBackoff = time.Millisecond

	sources := []model.Source{
		{ID: "python-buenos-aires", Name: "Python Buenos Aires", Type: model.SourceMeetup,
			URL: srv.URL + "/python-buenos-aires/events/ical/", Country: "AR", City: "Buenos Aires", Enabled: true},
		{ID: "broken", Name: "Broken", Type: model.SourceRSS, URL: srv.URL + "/broken", Enabled: true},
		{ID: "curated", Name: "Curated", Type: model.SourceJSON, URL: srv.URL + "/curated.json", Enabled: true},
		{ID: "disabled", Name: "Disabled", Type: model.SourceICS, URL: srv.URL + "/never", Enabled: false},
	}
	return env{cfg: cfg, sources: sources, srv: srv}
}

func TestRunEndToEnd(t *testing.T) {
	e := setup(t)
	p := New(e.cfg, e.sources, WithClock(func() time.Time { return clock }))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var raws []model.RawEvent
	if err := store.ReadJSON(filepath.Join(e.cfg.DataDir, store.RawEventsFile), &raws); err != nil {
		t.Fatal(err)
	}
	if len(raws) != 2 || raws[0].SourceID != "python-buenos-aires" || raws[1].SourceID != "curated" {
		t.Errorf("raw artifact = %+v", raws)
	}

	saved, err := catalog.Load(e.cfg.SourcesFile)
	if err != nil {
		t.Fatalf("saved catalog: %v", err)
	}
	byID := catalog.Lookup(saved)
	if s := byID["broken"]; s.LastError == "" || s.LastFetched == nil {
		t.Errorf("broken source state = %+v", s)
	}
	if s := byID["curated"]; s.LastError != "" || s.LastFetched == nil || !s.LastFetched.Equal(clock) {
		t.Errorf("curated source state = %+v", s)
	}
	if s := byID["disabled"]; s.LastFetched != nil {
		t.Errorf("disabled source was touched")
	}

	events, err := p.Events()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after dedupe, got %d", len(events))
	}
	if events[0].URL != "https://www.meetup.com/python-buenos-aires/events/1/" || events[1].Title != "Nerdearla 2025" {
		t.Errorf("events = %s / %s", events[0].Title, events[1].Title)
	}

	var idx partition.Index
	if err := store.ReadJSON(filepath.Join(e.cfg.PublicDir, partition.MonthsFile), &idx); err != nil {
		t.Fatal(err)
	}
	if len(idx.Months) != 2 || idx.Months[0].Month != "2025-10" || idx.Months[1].Month != "2025-11" {
		t.Errorf("months = %+v", idx.Months)
	}

	var invalid []model.InvalidEvent
	if err := store.ReadJSON(filepath.Join(e.cfg.DataDir, store.InvalidEventsFile), &invalid); err != nil || len(invalid) != 0 {
		t.Errorf("invalid = %v, err = %v", invalid, err)
	}

	prom, err := os.ReadFile(e.cfg.MetricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(prom), `cfpradar_source_fetches_total{result="error",source="broken"} 1`) {
		t.Errorf("metrics missing broken fetch:\n%s", prom)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	e := setup(t)
	e.cfg.SourcesFile = ""
	run := func() []byte {
		p := New(e.cfg, e.sources, WithClock(func() time.Time { return clock }))
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(e.cfg.DataDir, store.EventsFile))
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	if first, second := run(), run(); string(first) != string(second) {
		t.Errorf("events artifact differs between runs")
	}
}

func TestNormalizeWithoutRawArtifact(t *testing.T) {
	e := setup(t)
	_, err := New(e.cfg, e.sources).Normalize()
	if !errors.Is(err, ErrRawMissing) {
		t.Errorf("err = %v, want ErrRawMissing", err)
	}
}

func TestValidateRejectsBadArtifact(t *testing.T) {
	e := setup(t)
	good := model.Event{
		ID: "a", Title: "ok", URL: "https://ok.test", Format: model.FormatOnline,
		Tracks: []string{}, Languages: []string{"es"}, Tags: []string{},
		Source: model.SourceRef{ID: "curated", FetchedAt: clock}, LastSeenAt: clock,
	}
	bad := good
	bad.URL = "not-a-url"
	dup := good
	if err := store.WriteJSON(filepath.Join(e.cfg.DataDir, store.EventsFile), []model.Event{good, bad, dup}); err != nil {
		t.Fatal(err)
	}

	rep, err := New(e.cfg, e.sources).Validate()
	if !errors.Is(err, model.ErrInvalidEvent) {
		t.Fatalf("err = %v", err)
	}
	if rep.Checked != 3 || len(rep.Invalid) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(strings.Join(rep.Invalid[1].Reasons, ";"), "not unique") {
		t.Errorf("duplicate id not reported: %v", rep.Invalid[1].Reasons)
	}

	var invalid []model.InvalidEvent
	if err := store.ReadJSON(filepath.Join(e.cfg.DataDir, store.InvalidEventsFile), &invalid); err != nil || len(invalid) != 2 {
		t.Errorf("invalid artifact = %d records, err %v", len(invalid), err)
	}
}
