package citation

import "github.com/JakeFAU/wikitrust/internal/crawler"

// Entry is one reference as it appears on the page.
type Entry struct {
	Text  string
	Links []string
}

// containers are tried in order; the first one present wins.
var containers = []struct {
	tag   string
	class string
}{
	{tag: "ol", class: "references"},
	{tag: "div", class: "references-column-count"},
	{tag: "div", class: "references-column-width"},
}

// Extract returns the page's reference entries in document order. A page with
// no reference container falls back to every cite element; a page with neither
// yields an empty slice.
func Extract(doc Document) []Entry {
	if doc == nil {
		return []Entry{}
	}
	items := referenceItems(doc)
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			Text:  item.Text(),
			Links: hrefs(item),
		})
	}
	return entries
}

func referenceItems(doc Document) []Document {
	for _, c := range containers {
		if container, ok := doc.FindFirst(c.tag, c.class); ok {
			return container.FindAll("li")
		}
	}
	return doc.FindAll("cite")
}

func hrefs(item Document) []string {
	var links []string
	for _, a := range item.FindAll("a") {
		if href, ok := a.Attr("href"); ok {
			links = append(links, href)
		}
	}
	return links
}

// BuildCitations fans entries out to one row per link. CitationNum is the
// entry's position; entries without links contribute no rows.
func BuildCitations(pageID string, entries []Entry) []crawler.Citation {
	var out []crawler.Citation
	for num, entry := range entries {
		for _, link := range entry.Links {
			c := crawler.Citation{
				PageID:       pageID,
				CitationNum:  num,
				CitationText: entry.Text,
				Link:         link,
			}
			if host := Canonicalize(link); host != "" {
				c.ProcessedLink = &host
			}
			out = append(out, c)
		}
	}
	return out
}
