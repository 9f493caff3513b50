package normalize

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bytedance/sonic"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

// listing is a curated event record. Field names follow the canonical
// Event schema; a few common aliases are accepted.
type listing struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Link        string   `json:"link"`
	CFPURL      string   `json:"cfpUrl"`
	StartsAt    string   `json:"startsAt"`
	EndsAt      string   `json:"endsAt"`
	CFPOpensAt  string   `json:"cfpOpensAt"`
	CFPClosesAt string   `json:"cfpClosesAt"`
	Timezone    string   `json:"timezone"`
	Country     string   `json:"country"`
	City        string   `json:"city"`
	Venue       string   `json:"venue"`
	Location    string   `json:"location"`
	Format      string   `json:"format"`
	Price       string   `json:"price"`
	Tracks      []string `json:"tracks"`
	Languages   []string `json:"languages"`
	Tags        []string `json:"tags"`
}

// extractJSON accepts either an array of listings or {"events": [...]}.
func (n *Normalizer) extractJSON(raw model.RawEvent) ([]draft, error) {
	data := bytes.TrimSpace([]byte(raw.Text()))

	var items []listing
	if len(data) > 0 && data[0] == '{' {
		var wrapper struct {
			Events []listing `json:"events"`
		}
		if err := sonic.ConfigStd.Unmarshal(data, &wrapper); err != nil {
			return nil, err
		}
		items = wrapper.Events
	} else if err := sonic.ConfigStd.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	drafts := make([]draft, 0, len(items))
	for _, it := range items {
		d, err := n.listingDraft(it)
		if err != nil {
			appLog.Warn("json listing skipped", "source", raw.SourceID, "title", cmp.Or(it.Title, it.Name), "reason", err.Error())
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func (n *Normalizer) listingDraft(it listing) (draft, error) {
	e := model.Event{
		Title:       cmp.Or(it.Title, it.Name),
		Description: it.Description,
		URL:         cmp.Or(it.URL, it.Link),
		CFPURL:      it.CFPURL,
		Timezone:    it.Timezone,
		City:        it.City,
		Venue:       it.Venue,
		Format:      model.Format(strings.ToLower(strings.TrimSpace(it.Format))),
		Price:       model.Price(strings.ToLower(strings.TrimSpace(it.Price))),
		Tracks:      it.Tracks,
		Languages:   it.Languages,
		Tags:        it.Tags,
	}

	loc := n.loc
	if it.Timezone != "" {
		if l, err := time.LoadLocation(it.Timezone); err == nil {
			loc = l
		}
	}
	for _, f := range []struct {
		name string
		in   string
		out  **time.Time
	}{
		{"startsAt", it.StartsAt, &e.StartsAt},
		{"endsAt", it.EndsAt, &e.EndsAt},
		{"cfpOpensAt", it.CFPOpensAt, &e.CFPOpensAt},
		{"cfpClosesAt", it.CFPClosesAt, &e.CFPClosesAt},
	} {
		t, err := parseDate(f.in, loc)
		if err != nil {
			return draft{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = t
	}

	switch c := strings.TrimSpace(it.Country); {
	case len(c) == 2:
		e.Country = c
	case c != "":
		e.Country, _ = InferCountry(c)
	}
	if it.Location != "" {
		place := SplitLocation(it.Location)
		e.Country = cmp.Or(e.Country, place.Country)
		e.City = cmp.Or(e.City, place.City)
		e.Venue = cmp.Or(e.Venue, place.Venue)
	}
	if e.Format == "" {
		e.Format = InferFormat(it.Location + " " + it.Venue)
	}

	text := e.Title + " " + e.Description
	if len(e.Tracks) == 0 {
		e.Tracks = InferTracks(text)
	}
	if e.CFPURL == "" && e.CFPClosesAt != nil {
		e.CFPURL = e.URL
	}
	if e.CFPURL == "" && IsCFP(text) {
		e.CFPURL = e.URL
	}

	return draft{Event: e, RawID: cmp.Or(it.ID, e.URL)}, nil
}

// parseDate accepts RFC3339, date-only and the other layouts dateparse
// understands. Empty input yields nil.
func parseDate(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return nil, err
	}
	return model.TimePtr(t), nil
}
