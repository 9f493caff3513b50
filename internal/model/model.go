package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format is the attendance mode of an event.
type Format string

const (
	FormatInPerson Format = "in-person"
	FormatOnline   Format = "online"
	FormatHybrid   Format = "hybrid"
)

func (f Format) Valid() bool {
	switch f {
	case FormatInPerson, FormatOnline, FormatHybrid:
		return true
	}
	return false
}

// Price is the admission model of an event.
type Price string

const (
	PriceFree     Price = "free"
	PricePaid     Price = "paid"
	PriceDonation Price = "donation"
)

func (p Price) Valid() bool {
	switch p {
	case PriceFree, PricePaid, PriceDonation:
		return true
	}
	return false
}

// SourceType is the declared payload format of a Source.
type SourceType string

const (
	SourceICS    SourceType = "ics"
	SourceRSS    SourceType = "rss"
	SourceAtom   SourceType = "atom"
	SourceJSON   SourceType = "json"
	SourceHTML   SourceType = "html"
	SourceMeetup SourceType = "meetup"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceICS, SourceRSS, SourceAtom, SourceJSON, SourceHTML, SourceMeetup:
		return true
	}
	return false
}

// Ext is the file extension used for raw payload artifacts.
func (t SourceType) Ext() string {
	switch t {
	case SourceICS, SourceMeetup:
		return "ics"
	case SourceRSS, SourceAtom:
		return "xml"
	case SourceJSON:
		return "json"
	case SourceHTML:
		return "html"
	}
	return "txt"
}

// Source is one upstream origin of event data.
type Source struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Type    SourceType `json:"type"`
	URL     string     `json:"url"`
	Country string     `json:"country,omitempty"`
	City    string     `json:"city,omitempty"`
	Enabled bool       `json:"enabled"`
	// Render fetches HTML sources through a headless browser.
	Render bool `json:"render,omitempty"`

	LastFetched *time.Time `json:"lastFetched,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// SourceRef records where an Event came from.
type SourceRef struct {
	ID        string    `json:"id"`
	FetchedAt time.Time `json:"fetchedAt"`
	RawID     string    `json:"rawId,omitempty"`
}

// Event is the canonical, schema-validated unit every stage after
// ingestion operates on.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url"`
	CFPURL      string     `json:"cfpUrl,omitempty"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	CFPOpensAt  *time.Time `json:"cfpOpensAt,omitempty"`
	CFPClosesAt *time.Time `json:"cfpClosesAt,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
	Country     string     `json:"country,omitempty"`
	City        string     `json:"city,omitempty"`
	Venue       string     `json:"venue,omitempty"`
	Format      Format     `json:"format"`
	Tracks      []string   `json:"tracks"`
	Languages   []string   `json:"languages"`
	Price       Price      `json:"price,omitempty"`
	Tags        []string   `json:"tags"`
	Source      SourceRef  `json:"source"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
}

// RawEvent is a fetched payload waiting to be normalized.
type RawEvent struct {
	SourceID string     `json:"sourceId"`
	Type     SourceType `json:"type,omitempty"`
	// RawData is a JSON string for text payloads and embedded JSON for
	// json sources.
	RawData   json.RawMessage `json:"rawData"`
	FetchedAt time.Time       `json:"fetchedAt"`
	URL       string          `json:"url"`
}

// NewRawEvent wraps a fetched body. JSON sources keep their payload as
// embedded JSON when it parses; everything else becomes a JSON string.
func NewRawEvent(src Source, body []byte, fetchedAt time.Time) RawEvent {
	raw := RawEvent{
		SourceID:  src.ID,
		Type:      src.Type,
		FetchedAt: fetchedAt.UTC(),
		URL:       src.URL,
	}
	if src.Type == SourceJSON && json.Valid(body) {
		raw.RawData = json.RawMessage(slices.Clone(body))
		return raw
	}
	quoted, _ := json.Marshal(string(body))
	raw.RawData = quoted
	return raw
}

// Text returns the payload as text: the decoded string for text payloads,
// or the raw JSON bytes otherwise.
func (r RawEvent) Text() string {
	var s string
	if err := json.Unmarshal(r.RawData, &s); err == nil {
		return s
	}
	return string(r.RawData)
}

// FetchError is the per-source error artifact.
type FetchError struct {
	SourceID  string    `json:"sourceId"`
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// InvalidEvent pairs a rejected record with its reasons.
type InvalidEvent struct {
	Event   Event    `json:"event"`
	Reasons []string `json:"reasons"`
}

var ErrInvalidEvent = errors.New("invalid event")

// NewEventID derives a stable id from the source id, the source-native raw
// id, the title and the start time.
func NewEventID(sourceID, rawID, title string, startsAt *time.Time) string {
	start := ""
	if startsAt != nil {
		start = startsAt.UTC().Format(time.RFC3339)
	}
	name := strings.Join([]string{sourceID, rawID, title, start}, ":")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// TimePtr returns a UTC copy of t, or nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// Canonicalize trims text fields, uppercases the country, normalizes
// timestamps to UTC and turns tracks/languages/tags into sorted sets.
func (e *Event) Canonicalize() {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	e.URL = strings.TrimSpace(e.URL)
	e.CFPURL = strings.TrimSpace(e.CFPURL)
	e.Country = strings.ToUpper(strings.TrimSpace(e.Country))
	e.City = strings.TrimSpace(e.City)
	e.Venue = strings.TrimSpace(e.Venue)
	if e.Format == "" {
		e.Format = FormatInPerson
	}
	for _, t := range []**time.Time{&e.StartsAt, &e.EndsAt, &e.CFPOpensAt, &e.CFPClosesAt} {
		if *t != nil {
			*t = TimePtr(**t)
		}
	}
	e.Tracks = NormalizeSet(e.Tracks, true)
	e.Languages = NormalizeSet(e.Languages, true)
	e.Tags = NormalizeSet(e.Tags, false)
}

// NormalizeSet trims, drops empties, deduplicates and sorts. With fold set,
// values are lowercased first.
func NormalizeSet(in []string, fold bool) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Validate checks the Event schema and returns every violation joined
// under ErrInvalidEvent.
func (e Event) Validate() error {
	problems := e.Problems()
	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = errors.New(p)
	}
	return fmt.Errorf("%w: %w", ErrInvalidEvent, errors.Join(errs...))
}

// Problems lists schema violations in a fixed order.
func (e Event) Problems() []string {
	var out []string
	if e.ID == "" {
		out = append(out, "id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		out = append(out, "title is required")
	}
	if !ValidURL(e.URL) {
		out = append(out, fmt.Sprintf("url %q is not a valid absolute URL", e.URL))
	}
	if e.CFPURL != "" && !ValidURL(e.CFPURL) {
		out = append(out, fmt.Sprintf("cfpUrl %q is not a valid absolute URL", e.CFPURL))
	}
	if e.Country != "" && !ValidCountryCode(e.Country) {
		out = append(out, fmt.Sprintf("country %q must be a 2-letter code", e.Country))
	}
	if !e.Format.Valid() {
		out = append(out, fmt.Sprintf("format %q is not one of in-person, online, hybrid", e.Format))
	}
	if e.Price != "" && !e.Price.Valid() {
		out = append(out, fmt.Sprintf("price %q is not one of free, paid, donation", e.Price))
	}
	if e.CFPOpensAt != nil && e.CFPClosesAt != nil && e.CFPOpensAt.After(*e.CFPClosesAt) {
		out = append(out, "cfpOpensAt is after cfpClosesAt")
	}
	if hasDuplicates(e.Tracks) {
		out = append(out, "tracks contains duplicates")
	}
	if hasDuplicates(e.Languages) {
		out = append(out, "languages contains duplicates")
	}
	if hasDuplicates(e.Tags) {
		out = append(out, "tags contains duplicates")
	}
	if e.Source.ID == "" {
		out = append(out, "source.id is required")
	}
	if e.Source.FetchedAt.IsZero() {
		out = append(out, "source.fetchedAt is required")
	}
	if e.LastSeenAt.IsZero() {
		out = append(out, "lastSeenAt is required")
	}
	return out
}

// ValidURL reports whether s is an absolute http(s) URL with a host.
func ValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidCountryCode reports whether c is two uppercase ASCII letters.
func ValidCountryCode(c string) bool {
	if len(c) != 2 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func hasDuplicates(set []string) bool {
	seen := make(map[string]struct{}, len(set))
	for _, v := range set {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}
