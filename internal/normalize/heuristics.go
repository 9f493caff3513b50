package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"cfpradar/internal/model"
)

type country struct {
	Code  string
	Name  string
	Alias []string
}

// latam is matched in order; the first hit wins.
var latam = []country{
	{Code: "AR", Name: "Argentina"},
	{Code: "BO", Name: "Bolivia"},
	{Code: "BR", Name: "Brasil", Alias: []string{"Brazil"}},
	{Code: "CL", Name: "Chile"},
	{Code: "CO", Name: "Colombia"},
	{Code: "CR", Name: "Costa Rica"},
	{Code: "CU", Name: "Cuba"},
	{Code: "DO", Name: "República Dominicana", Alias: []string{"Dominican Republic"}},
	{Code: "EC", Name: "Ecuador"},
	{Code: "GT", Name: "Guatemala"},
	{Code: "HN", Name: "Honduras"},
	{Code: "MX", Name: "México"},
	{Code: "NI", Name: "Nicaragua"},
	{Code: "PA", Name: "Panamá"},
	{Code: "PY", Name: "Paraguay"},
	{Code: "PE", Name: "Perú"},
	{Code: "SV", Name: "El Salvador"},
	{Code: "UY", Name: "Uruguay"},
	{Code: "VE", Name: "Venezuela"},
}

type track struct {
	Name     string
	Keywords []string
}

var trackTable = []track{
	{"web", []string{"web", "frontend", "html", "css", "javascript"}},
	{"mobile", []string{"mobile", "android", "ios", "react native", "flutter"}},
	{"ai", []string{"ai", "artificial intelligence", "machine learning", "ml"}},
	{"cloud", []string{"cloud", "aws", "azure", "gcp", "google cloud"}},
	{"security", []string{"security", "cybersecurity", "owasp", "secure"}},
	{"python", []string{"python", "django", "flask", "fastapi"}},
	{"javascript", []string{"javascript", "js", "node", "nodejs"}},
	{"react", []string{"react", "reactjs"}},
	{"devops", []string{"devops", "ci/cd", "deployment", "infrastructure"}},
	{"data", []string{"data science", "big data", "data engineering"}},
	{"kubernetes", []string{"kubernetes", "k8s"}},
	{"blockchain", []string{"blockchain", "web3"}},
}

var cfpPhrases = []string{"cfp", "call for papers", "call for proposals", "convocatoria"}

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s<>"'\\]+`)
	nonLetterRun = regexp.MustCompile(`[^a-z]+`)
)

// fold lowercases s and strips diacritics so "México" matches "mexico".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// InferCountry matches text against the LATAM table. Country names and
// aliases match as accent-insensitive substrings; two-letter codes only
// match as whole tokens.
func InferCountry(text string) (string, bool) {
	f := fold(text)
	if strings.TrimSpace(f) == "" {
		return "", false
	}
	for _, c := range latam {
		if strings.Contains(f, fold(c.Name)) {
			return c.Code, true
		}
		for _, a := range c.Alias {
			if strings.Contains(f, fold(a)) {
				return c.Code, true
			}
		}
	}
	for _, tok := range nonLetterRun.Split(f, -1) {
		for _, c := range latam {
			if tok == strings.ToLower(c.Code) {
				return c.Code, true
			}
		}
	}
	return "", false
}

// CountryName returns the display name for a LATAM code, or the code itself.
func CountryName(code string) string {
	for _, c := range latam {
		if strings.EqualFold(c.Code, code) {
			return c.Name
		}
	}
	return code
}

// Place is the result of splitting a free-text location.
type Place struct {
	Venue   string
	City    string
	Country string
}

// SplitLocation splits loc on commas. The last segment is matched against
// the country table, the one before it becomes the city and, with three
// or more segments, the first one becomes the venue.
func SplitLocation(loc string) Place {
	var parts []string
	for _, p := range strings.Split(loc, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	var out Place
	switch n := len(parts); {
	case n == 0:
	case n == 1:
		out.Country, _ = InferCountry(parts[0])
	default:
		out.Country, _ = InferCountry(parts[n-1])
		out.City = parts[n-2]
		if n >= 3 {
			out.Venue = parts[0]
		}
	}
	return out
}

// InferFormat reports online when the location mentions online or zoom.
func InferFormat(loc string) model.Format {
	l := strings.ToLower(loc)
	if strings.Contains(l, "online") || strings.Contains(l, "zoom") {
		return model.FormatOnline
	}
	return model.FormatInPerson
}

// InferTracks scans text for track keywords. Each track is added once, in
// table order.
func InferTracks(text string) []string {
	l := strings.ToLower(text)
	out := []string{}
	for _, t := range trackTable {
		for _, kw := range t.Keywords {
			if strings.Contains(l, kw) {
				out = append(out, t.Name)
				break
			}
		}
	}
	return out
}

// IsCFP reports whether text mentions a call for papers.
func IsCFP(text string) bool {
	l := strings.ToLower(text)
	for _, p := range cfpPhrases {
		if strings.Contains(l, p) {
			return true
		}
	}
	return false
}

// DefaultLanguages guesses the event language from its country.
func DefaultLanguages(countryCode string) []string {
	if countryCode == "BR" {
		return []string{"pt"}
	}
	return []string{"es"}
}

// FirstURL returns the first http(s) link in text.
func FirstURL(text string) string {
	u := urlPattern.FindString(text)
	return strings.TrimRight(u, ").,;:!?]")
}
