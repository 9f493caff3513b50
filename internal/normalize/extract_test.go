package normalize

import (
	"strings"
	"testing"
	"time"

	"cfpradar/internal/model"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Comunidad Dev Chile</title>
  <link>https://devchile.test</link>
  <item>
    <title>Call for Papers: JSConf Chile 2025</title>
    <link>https://devchile.test/jsconf-cfp</link>
    <guid>jsconf-cfp-2025</guid>
    <description>&lt;p&gt;Envía tu charla sobre &lt;b&gt;JavaScript&lt;/b&gt; y Node&lt;/p&gt;</description>
    <pubDate>Mon, 06 Oct 2025 12:00:00 GMT</pubDate>
    <category>conferencias</category>
  </item>
  <item>
    <title>Sin enlace</title>
    <description>Este item no tiene link</description>
  </item>
  <item>
    <title>Resumen del mes</title>
    <link>https://devchile.test/resumen</link>
  </item>
</channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>OWASP LATAM</title>
  <id>urn:owasp-latam</id>
  <updated>2025-09-10T10:00:00Z</updated>
  <entry>
    <title>OWASP LATAM Tour Santiago</title>
    <link href="https://owasp.test/latam-tour-santiago"/>
    <id>urn:owasp-latam:tour-santiago</id>
    <updated>2025-09-10T10:00:00Z</updated>
    <summary>Seguridad en aplicaciones web</summary>
  </entry>
</feed>`

func TestFeedExtractorRSS(t *testing.T) {
	n := newTestNormalizer()
	raw := model.NewRawEvent(model.Source{ID: "devchile-rss", Type: model.SourceRSS, URL: "https://devchile.test/feed"}, []byte(rssFixture), fixedNow)

	events, _, err := n.NormalizeOne(raw)
	if err != nil {
		t.Fatalf("NormalizeOne: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (item without link skipped), got %d", len(events))
	}

	cfp := events[0]
	if cfp.Format != model.FormatOnline {
		t.Errorf("format = %s", cfp.Format)
	}
	if cfp.CFPURL != "https://devchile.test/jsconf-cfp" {
		t.Errorf("cfpUrl = %q", cfp.CFPURL)
	}
	if cfp.Description != "Envía tu charla sobre JavaScript y Node" {
		t.Errorf("description not flattened: %q", cfp.Description)
	}
	if !cfp.StartsAt.Equal(time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("startsAt = %v", cfp.StartsAt)
	}
	if cfp.Source.RawID != "jsconf-cfp-2025" {
		t.Errorf("rawId = %q", cfp.Source.RawID)
	}
	if strings.Join(cfp.Tracks, ",") != "javascript,web" {
		t.Errorf("tracks = %v", cfp.Tracks)
	}

	plain := events[1]
	if plain.CFPURL != "" {
		t.Errorf("non-CFP item flagged")
	}
	if !plain.StartsAt.Equal(fixedNow) {
		t.Errorf("missing pubDate should fall back to fetch time, got %v", plain.StartsAt)
	}
	if plain.Source.RawID != "https://devchile.test/resumen" {
		t.Errorf("rawId should fall back to link: %q", plain.Source.RawID)
	}
}

func TestFeedExtractorAtom(t *testing.T) {
	raw := model.NewRawEvent(model.Source{ID: "owasp-feed", Type: model.SourceAtom, URL: "https://owasp.test/atom.xml"}, []byte(atomFixture), fixedNow)
	events, _, err := newTestNormalizer().NormalizeOne(raw)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, err = %v", events, err)
	}
	ev := events[0]
	if ev.URL != "https://owasp.test/latam-tour-santiago" || !ev.StartsAt.Equal(time.Date(2025, 9, 10, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected atom event: %+v", ev)
	}
}

func TestJSONExtractor(t *testing.T) {
	body := `{"events": [
		{
			"id": "pycon-ar-2025",
			"title": "PyCon Argentina 2025",
			"url": "https://ar.pycon.org",
			"cfpUrl": "https://ar.pycon.org/cfp",
			"startsAt": "2025-11-20T09:00:00-03:00",
			"endsAt": "2025-11-22",
			"cfpOpensAt": "2025-06-01",
			"cfpClosesAt": "2025-08-31",
			"country": "Argentina",
			"city": "Buenos Aires",
			"format": "Hybrid",
			"price": "paid",
			"tracks": ["Python", "python", "ai"]
		},
		{
			"name": "Meetup sin url",
			"startsAt": "2025-10-01"
		},
		{
			"title": "Fecha rota",
			"url": "https://broken.test",
			"startsAt": "2025-13-45"
		},
		{
			"title": "Nerdearla Chile",
			"link": "https://nerdear.la/cl",
			"startsAt": "2025-10-08T10:00:00Z",
			"location": "Online"
		}
	]}`
	raw := model.NewRawEvent(model.Source{ID: "curated", Type: model.SourceJSON, URL: "https://example.test/events.json"}, []byte(body), fixedNow)

	events, dropped, err := newTestNormalizer().NormalizeOne(raw)
	if err != nil {
		t.Fatalf("NormalizeOne: %v", err)
	}
	if len(events) != 2 || dropped != 1 {
		t.Fatalf("got %d events, %d dropped", len(events), dropped)
	}

	py := events[0]
	if py.Country != "AR" || py.Format != model.FormatHybrid || py.Price != model.PricePaid {
		t.Errorf("py = %+v", py)
	}
	if strings.Join(py.Tracks, ",") != "ai,python" {
		t.Errorf("tracks not normalized to a set: %v", py.Tracks)
	}
	if !py.StartsAt.Equal(time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("startsAt = %v", py.StartsAt)
	}
	if py.Source.RawID != "pycon-ar-2025" {
		t.Errorf("rawId = %q", py.Source.RawID)
	}

	nerd := events[1]
	if nerd.Format != model.FormatOnline || nerd.URL != "https://nerdear.la/cl" {
		t.Errorf("nerd = %+v", nerd)
	}
}

const jsonLDPage = `<!doctype html>
<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"Organization","name":"Ekoparty"},
  {"@type":"Event","name":"Ekoparty Security Conference",
   "url":"/2025",
   "startDate":"2025-11-05T09:00:00-03:00",
   "endDate":"2025-11-07T18:00:00-03:00",
   "description":"<p>Conferencia de seguridad informática. CFP abierto.</p>",
   "eventAttendanceMode":"https://schema.org/MixedEventAttendanceMode",
   "location":{"@type":"Place","name":"Centro Costa Salguero",
     "address":{"@type":"PostalAddress","addressLocality":"Buenos Aires","addressCountry":"AR"}},
   "offers":[{"@type":"Offer","price":"0"},{"@type":"Offer","price":150}]}
]}
</script>
<script type="application/ld+json">{ broken json </script>
</head><body></body></html>`

const microdataPage = `<html><body>
<div itemscope itemtype="https://schema.org/Event">
  <h2 itemprop="name">Flutter Day Lima</h2>
  <time itemprop="startDate" datetime="2025-10-25T10:00:00-05:00">25 de octubre</time>
  <a itemprop="url" href="https://flutter.test/lima">Más info</a>
  <div itemprop="location" itemscope itemtype="https://schema.org/Place">
    <span itemprop="name">UTEC</span>
    <span itemprop="addressLocality">Lima</span>
    <span itemprop="addressCountry">Perú</span>
  </div>
</div>
</body></html>`

func TestHTMLExtractorJSONLD(t *testing.T) {
	raw := model.NewRawEvent(model.Source{ID: "ekoparty", Type: model.SourceHTML, URL: "https://ekoparty.test/"}, []byte(jsonLDPage), fixedNow)
	events, _, err := newTestNormalizer().NormalizeOne(raw)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, err = %v", events, err)
	}
	ev := events[0]
	if ev.URL != "https://ekoparty.test/2025" {
		t.Errorf("relative url not resolved: %q", ev.URL)
	}
	if ev.Format != model.FormatHybrid || ev.Price != model.PricePaid {
		t.Errorf("format/price = %s/%s", ev.Format, ev.Price)
	}
	if ev.Venue != "Centro Costa Salguero" || ev.City != "Buenos Aires" || ev.Country != "AR" {
		t.Errorf("place = %q/%q/%q", ev.Venue, ev.City, ev.Country)
	}
	if ev.CFPURL != ev.URL || ev.CFPClosesAt == nil {
		t.Errorf("CFP heuristic not applied: %+v", ev)
	}
	if strings.Join(ev.Tracks, ",") != "security" {
		t.Errorf("tracks = %v", ev.Tracks)
	}
}

func TestHTMLExtractorMicrodata(t *testing.T) {
	raw := model.NewRawEvent(model.Source{ID: "flutter-lima", Type: model.SourceHTML, URL: "https://flutter.test/"}, []byte(microdataPage), fixedNow)
	events, _, err := newTestNormalizer().NormalizeOne(raw)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, err = %v", events, err)
	}
	ev := events[0]
	if ev.Title != "Flutter Day Lima" || ev.URL != "https://flutter.test/lima" {
		t.Errorf("title/url = %q/%q", ev.Title, ev.URL)
	}
	if ev.City != "Lima" || ev.Country != "PE" || ev.Venue != "UTEC" {
		t.Errorf("place = %q/%q/%q", ev.Venue, ev.City, ev.Country)
	}
	if !ev.StartsAt.Equal(time.Date(2025, 10, 25, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("startsAt = %v", ev.StartsAt)
	}
	if strings.Join(ev.Tracks, ",") != "mobile" {
		t.Errorf("tracks = %v", ev.Tracks)
	}
}
