// Package partition splits the canonical events into monthly artifacts for
// the presentation layer.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
	"cfpradar/internal/store"
)

// Public artifact names.
const (
	EventsFile = "events.json"
	MonthsFile = "months.json"
)

var monthlyName = regexp.MustCompile(`^events-\d{4}-\d{2}\.json$`)

// Monthly maps "YYYY-MM" to the events starting in that month.
type Monthly map[string][]model.Event

// Keys returns the months in ascending order.
func (m Monthly) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MonthFile is the artifact name for a month key.
func MonthFile(key string) string {
	return "events-" + key + ".json"
}

// Partition groups events by the year-month of startsAt in loc. Events
// without startsAt are left out. Each month keeps a stable startsAt order.
func Partition(events []model.Event, loc *time.Location) Monthly {
	if loc == nil {
		loc = time.UTC
	}
	out := make(Monthly)
	for _, ev := range events {
		if ev.StartsAt == nil {
			continue
		}
		key := ev.StartsAt.In(loc).Format("2006-01")
		out[key] = append(out[key], ev)
	}
	for _, month := range out {
		slices.SortStableFunc(month, func(a, b model.Event) int {
			return a.StartsAt.Compare(*b.StartsAt)
		})
	}
	return out
}

// MonthInfo is one entry of the month index.
type MonthInfo struct {
	Month string `json:"month"`
	File  string `json:"file"`
	Count int    `json:"count"`
}

// Index lists the populated months for client-side loaders.
type Index struct {
	Total  int         `json:"total"`
	Dated  int         `json:"dated"`
	Months []MonthInfo `json:"months"`
}

// Write replaces the public artifacts in dir: the full events.json, one
// file per populated month and the month index. Monthly files from
// earlier runs that no longer have events are removed.
func Write(dir string, events []model.Event, loc *time.Location) (Monthly, error) {
	if events == nil {
		events = []model.Event{}
	}
	months := Partition(events, loc)

	if err := store.WriteJSON(filepath.Join(dir, EventsFile), events); err != nil {
		return nil, fmt.Errorf("write %s: %w", EventsFile, err)
	}

	idx := Index{Total: len(events), Months: make([]MonthInfo, 0, len(months))}
	keep := make(map[string]bool, len(months))
	for _, key := range months.Keys() {
		name := MonthFile(key)
		keep[name] = true
		if err := store.WriteJSON(filepath.Join(dir, name), months[key]); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		idx.Dated += len(months[key])
		idx.Months = append(idx.Months, MonthInfo{Month: key, File: name, Count: len(months[key])})
		appLog.Debug("month written", "month", key, "events", len(months[key]))
	}
	if err := store.WriteJSON(filepath.Join(dir, MonthsFile), idx); err != nil {
		return nil, fmt.Errorf("write %s: %w", MonthsFile, err)
	}

	if err := removeStale(dir, keep); err != nil {
		return nil, err
	}
	appLog.Info("monthly artifacts written", "dir", dir, "months", len(months), "events", len(events), "dated", idx.Dated)
	return months, nil
}

func removeStale(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !monthlyName.MatchString(name) || keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove stale %s: %w", name, err)
		}
		appLog.Info("stale month removed", "file", name)
	}
	return nil
}
