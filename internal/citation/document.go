package citation

import (
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// Document is the slice of a parsed markup tree the extractor needs. Missing
// elements and attributes are reported through ok flags, never errors.
type Document interface {
	FindFirst(tag, class string) (Document, bool)
	FindAll(tag string) []Document
	Text() string
	Attr(name string) (string, bool)
}

// Parse reads HTML into a Document.
func Parse(r io.Reader) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return selection{sel: doc.Selection}, nil
}

type selection struct {
	sel *goquery.Selection
}

func (s selection) FindFirst(tag, class string) (Document, bool) {
	query := tag
	if class != "" {
		query += "." + class
	}
	found := s.sel.Find(query).First()
	if found.Length() == 0 {
		return nil, false
	}
	return selection{sel: found}, true
}

func (s selection) FindAll(tag string) []Document {
	found := s.sel.Find(tag)
	out := make([]Document, 0, found.Length())
	found.Each(func(_ int, item *goquery.Selection) {
		out = append(out, selection{sel: item})
	})
	return out
}

func (s selection) Text() string {
	return s.sel.Text()
}

func (s selection) Attr(name string) (string, bool) {
	return s.sel.Attr(name)
}
