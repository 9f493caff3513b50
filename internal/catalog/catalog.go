// Package catalog holds the list of upstream event sources.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
	"cfpradar/internal/store"
)

func meetup(id, name, country, city string) model.Source {
	return model.Source{
		ID:      id,
		Name:    name,
		Type:    model.SourceMeetup,
		URL:     "https://www.meetup.com/" + id + "/events/ical/",
		Country: country,
		City:    city,
		Enabled: true,
	}
}

// Defaults returns the built-in catalog. Each call returns a fresh slice.
func Defaults() []model.Source {
	return []model.Source{
		meetup("gdg-buenos-aires", "GDG Buenos Aires", "AR", "Buenos Aires"),
		meetup("gdg-santiago", "GDG Santiago", "CL", "Santiago"),
		meetup("gdg-mexico-city", "GDG Mexico City", "MX", "Ciudad de México"),
		meetup("gdg-bogota", "GDG Bogotá", "CO", "Bogotá"),
		meetup("owasp-buenos-aires", "OWASP Buenos Aires", "AR", "Buenos Aires"),
		meetup("owasp-santiago", "OWASP Santiago", "CL", "Santiago"),
		meetup("aws-ug-buenos-aires", "AWS User Group Buenos Aires", "AR", "Buenos Aires"),
		meetup("aws-ug-mexico", "AWS User Group México", "MX", "Ciudad de México"),
		meetup("python-buenos-aires", "Python Buenos Aires", "AR", "Buenos Aires"),
		meetup("python-chile", "Python Chile", "CL", "Santiago"),
		meetup("react-buenos-aires", "React Buenos Aires", "AR", "Buenos Aires"),
		meetup("react-mexico", "React México", "MX", "Ciudad de México"),
		{
			ID:      "nerdearla",
			Name:    "Nerdearla",
			Type:    model.SourceICS,
			URL:     "https://nerdear.la/calendar.ics",
			Country: "AR",
			City:    "Buenos Aires",
			Enabled: true,
		},
		{
			ID:      "tdc-sao-paulo",
			Name:    "The Developer's Conference São Paulo",
			Type:    model.SourceICS,
			URL:     "https://thedevconf.com/tdc/2024/saopaulo/calendar.ics",
			Country: "BR",
			City:    "São Paulo",
			Enabled: true,
		},
	}
}

// Load reads the catalog at path. An empty path or a missing file yields
// the built-in catalog; a file that exists but cannot be decoded or fails
// validation is an error.
func Load(path string) ([]model.Source, error) {
	if path == "" {
		return Defaults(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		appLog.Info("source catalog not found, using built-in defaults", "path", path)
		return Defaults(), nil
	}

	var sources []model.Source
	if err := store.ReadJSON(path, &sources); err != nil {
		return nil, fmt.Errorf("load source catalog: %w", err)
	}
	if err := Validate(sources); err != nil {
		return nil, fmt.Errorf("load source catalog %s: %w", path, err)
	}
	return sources, nil
}

// Save writes the catalog atomically.
func Save(path string, sources []model.Source) error {
	if path == "" {
		return errors.New("catalog path is empty")
	}
	return store.WriteJSON(path, sources)
}

// Validate reports every malformed entry.
func Validate(sources []model.Source) error {
	var errs []error
	seen := make(map[string]bool, len(sources))
	for i, s := range sources {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("source #%d: id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("source %q: duplicate id", s.ID))
		}
		seen[s.ID] = true
		if !s.Type.Valid() {
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", s.ID, s.Type))
		}
		if !model.ValidURL(s.URL) {
			errs = append(errs, fmt.Errorf("source %q: url %q is not absolute", s.ID, s.URL))
		}
		if s.Country != "" && !model.ValidCountryCode(s.Country) {
			errs = append(errs, fmt.Errorf("source %q: country %q must be a 2-letter code", s.ID, s.Country))
		}
	}
	return errors.Join(errs...)
}

// Enabled returns the enabled sources in catalog order.
func Enabled(sources []model.Source) []model.Source {
	out := make([]model.Source, 0, len(sources))
	for _, s := range sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Lookup indexes the catalog by id.
func Lookup(sources []model.Source) map[string]model.Source {
	out := make(map[string]model.Source, len(sources))
	for _, s := range sources {
		out[s.ID] = s
	}
	return out
}
