// Package popularity resolves canonical links to domains with an external
// popularity signal and caches the raw records in a blob store.
package popularity

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Stats is the parsed popularity record for one domain. Nil fields were blank.
type Stats struct {
	Domain       string
	Rank         *int64
	LinksInCount *int64
}

// Parse reads DataUrl, Rank, and LinksInCount from an XML record. Elements are
// matched by local name, so namespace prefixes do not matter; the first match
// in document order wins.
func Parse(payload []byte) (Stats, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(payload))
	if err != nil {
		return Stats{}, fmt.Errorf("parse popularity record: %w", err)
	}
	var stats Stats
	stats.Domain = text(doc, "DataUrl")
	if stats.Rank, err = number(doc, "Rank"); err != nil {
		return Stats{}, err
	}
	if stats.LinksInCount, err = number(doc, "LinksInCount"); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func text(doc *xmlquery.Node, name string) string {
	node := xmlquery.FindOne(doc, fmt.Sprintf("//*[local-name()='%s']", name))
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.InnerText())
}

func number(doc *xmlquery.Node, name string) (*int64, error) {
	raw := strings.ReplaceAll(text(doc, name), ",", "")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return &v, nil
}
