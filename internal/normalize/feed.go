package normalize

import (
	"cmp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
)

// extractFeed handles RSS and Atom payloads. Items without a title or a
// link are skipped; location is not modeled so events default to online.
func (n *Normalizer) extractFeed(raw model.RawEvent) ([]draft, error) {
	feed, err := gofeed.NewParser().ParseString(raw.Text())
	if err != nil {
		return nil, err
	}

	drafts := make([]draft, 0, len(feed.Items))
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if title == "" || link == "" {
			appLog.Debug("feed item skipped", "source", raw.SourceID, "title", title, "reason", "missing title or link")
			continue
		}

		desc := htmlText(cmp.Or(item.Description, item.Content))
		published := raw.FetchedAt
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		}

		text := title + " " + desc
		e := model.Event{
			Title:       title,
			Description: desc,
			URL:         link,
			StartsAt:    model.TimePtr(published),
			Format:      model.FormatOnline,
			Tracks:      InferTracks(text),
			Price:       model.PriceFree,
			Tags:        item.Categories,
		}
		if IsCFP(text) {
			e.CFPURL = link
		}
		drafts = append(drafts, draft{Event: e, RawID: cmp.Or(strings.TrimSpace(item.GUID), link)})
	}
	return drafts, nil
}

// htmlText flattens an HTML fragment to plain text with collapsed spaces.
func htmlText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
