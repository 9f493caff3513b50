package normalize

import (
	"cmp"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

// extractHTML reads schema.org Event data from JSON-LD blocks, falling back
// to microdata when the page has none.
func (n *Normalizer) extractHTML(raw model.RawEvent) ([]draft, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.Text()))
	if err != nil {
		return nil, err
	}

	var objs []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := sonic.ConfigStd.UnmarshalFromString(s.Text(), &v); err != nil {
			appLog.Warn("json-ld block skipped", "source", raw.SourceID, "reason", err.Error())
			return
		}
		objs = collectEvents(v, objs)
	})
	if len(objs) == 0 {
		objs = microdataEvents(doc)
	}

	base, _ := url.Parse(raw.URL)
	drafts := make([]draft, 0, len(objs))
	for _, obj := range objs {
		d, err := n.schemaDraft(obj, base, len(objs) == 1)
		if err != nil {
			appLog.Warn("html event skipped", "source", raw.SourceID, "title", pickStr(obj, "name"), "reason", err.Error())
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// collectEvents walks decoded JSON-LD and appends every object whose
// @type ends in "Event".
func collectEvents(v any, out []map[string]any) []map[string]any {
	switch x := v.(type) {
	case []any:
		for _, el := range x {
			out = collectEvents(el, out)
		}
	case map[string]any:
		if isEventType(x["@type"]) {
			out = append(out, x)
		}
		if g, ok := x["@graph"]; ok {
			out = collectEvents(g, out)
		}
	}
	return out
}

func isEventType(t any) bool {
	switch x := t.(type) {
	case string:
		return strings.HasSuffix(x, "Event")
	case []any:
		for _, el := range x {
			if isEventType(el) {
				return true
			}
		}
	}
	return false
}

// microdataEvents converts itemscope Event blocks into the same shape as
// JSON-LD objects so both share one mapping.
func microdataEvents(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	doc.Find(`[itemscope][itemtype*="schema.org/"]`).Each(func(_ int, s *goquery.Selection) {
		itemType, _ := s.Attr("itemtype")
		if !strings.HasSuffix(strings.TrimRight(itemType, "/"), "Event") {
			return
		}
		obj := map[string]any{}
		for _, prop := range []string{"name", "description", "startDate", "endDate", "url", "eventAttendanceMode"} {
			if v := itemprop(s, prop); v != "" {
				obj[prop] = v
			}
		}
		if l := s.Find(`[itemprop="location"]`).First(); l.Length() > 0 {
			place := map[string]any{"@type": "Place"}
			if v := itemprop(l, "name"); v != "" {
				place["name"] = v
			}
			addr := map[string]any{}
			for _, prop := range []string{"addressLocality", "addressCountry"} {
				if v := itemprop(l, prop); v != "" {
					addr[prop] = v
				}
			}
			if len(addr) > 0 {
				place["address"] = addr
			}
			if len(place) == 1 {
				place["name"] = strings.Join(strings.Fields(l.Text()), " ")
			}
			obj["location"] = place
		}
		out = append(out, obj)
	})
	return out
}

func itemprop(s *goquery.Selection, name string) string {
	el := s.Find(`[itemprop="` + name + `"]`).First()
	if el.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"content", "datetime", "href"} {
		if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.Join(strings.Fields(el.Text()), " ")
}

// schemaDraft maps a schema.org Event object. Objects without their own
// url only inherit the page url when they are alone on the page.
func (n *Normalizer) schemaDraft(obj map[string]any, base *url.URL, alone bool) (draft, error) {
	e := model.Event{
		Title:       pickStr(obj, "name"),
		Description: htmlText(pickStr(obj, "description")),
		Format:      model.FormatInPerson,
	}

	link := resolve(base, pickStr(obj, "url"))
	if link == "" && alone && base != nil {
		link = base.String()
	}
	e.URL = link

	var err error
	if e.StartsAt, err = parseDate(pickStr(obj, "startDate"), n.loc); err != nil {
		return draft{}, err
	}
	if e.EndsAt, err = parseDate(pickStr(obj, "endDate"), n.loc); err != nil {
		return draft{}, err
	}

	mode := strings.ToLower(pickStr(obj, "eventAttendanceMode"))
	switch {
	case strings.Contains(mode, "mixed"):
		e.Format = model.FormatHybrid
	case strings.Contains(mode, "online"):
		e.Format = model.FormatOnline
	}

	for _, l := range asList(obj["location"]) {
		switch loc := l.(type) {
		case string:
			place := SplitLocation(loc)
			e.Venue, e.City, e.Country = cmp.Or(e.Venue, place.Venue), cmp.Or(e.City, place.City), cmp.Or(e.Country, place.Country)
			if e.Format == model.FormatInPerson {
				e.Format = InferFormat(loc)
			}
		case map[string]any:
			if t, _ := loc["@type"].(string); t == "VirtualLocation" {
				if e.Format == model.FormatInPerson {
					e.Format = model.FormatOnline
				}
				continue
			}
			e.Venue = cmp.Or(e.Venue, pickStr(loc, "name"))
			city, country := address(loc["address"])
			e.City, e.Country = cmp.Or(e.City, city), cmp.Or(e.Country, country)
		}
	}

	for _, o := range asList(obj["offers"]) {
		offer, ok := o.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := price(offer["price"]); ok {
			if p > 0 {
				e.Price = model.PricePaid
			} else if e.Price == "" {
				e.Price = model.PriceFree
			}
		}
	}
	if e.Price == "" && obj["isAccessibleForFree"] == true {
		e.Price = model.PriceFree
	}

	text := e.Title + " " + e.Description
	e.Tracks = InferTracks(text)
	if IsCFP(text) {
		e.CFPURL = e.URL
		e.CFPClosesAt = e.EndsAt
	}
	return draft{Event: e, RawID: cmp.Or(pickStr(obj, "@id"), e.URL)}, nil
}

// address extracts city and country from a PostalAddress or a plain string.
func address(v any) (city, country string) {
	switch a := v.(type) {
	case string:
		place := SplitLocation(a)
		return place.City, place.Country
	case map[string]any:
		city = pickStr(a, "addressLocality")
		c := pickStr(a, "addressCountry")
		if m, ok := a["addressCountry"].(map[string]any); ok {
			c = pickStr(m, "name")
		}
		if len(c) == 2 {
			return city, strings.ToUpper(c)
		}
		country, _ = InferCountry(c)
		return city, country
	}
	return "", ""
}

func price(v any) (float64, bool) {
	switch p := v.(type) {
	case float64:
		return p, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		return f, err == nil
	}
	return 0, false
}

func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || u.IsAbs() {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// pickStr returns the first non-empty string value among keys.
func pickStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
			}
		}
	}
	return ""
}
