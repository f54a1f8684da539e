// Package parser turns listing-page markup into product records.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/aluiziolira/go-scrape-products/models"
)

// lookup is the result of searching a container for one field.
type lookup struct {
	value string
	ok    bool
}

func present(value string) lookup {
	return lookup{value: value, ok: true}
}

func absent() lookup {
	return lookup{}
}

// OrNA returns the value, or models.NotAvailable when the field was absent.
func (l lookup) OrNA() string {
	if !l.ok {
		return models.NotAvailable
	}
	return l.value
}

// findText returns the trimmed text of the first descendant matching m.
func findText(s *goquery.Selection, m goquery.Matcher) lookup {
	node := s.FindMatcher(m).First()
	if node.Length() == 0 {
		return absent()
	}
	return present(strings.TrimSpace(node.Text()))
}

// findAttr returns attr of the first descendant matching m. A matching node
// without the attribute counts as absent.
func findAttr(s *goquery.Selection, m goquery.Matcher, attr string) lookup {
	node := s.FindMatcher(m).First()
	if node.Length() == 0 {
		return absent()
	}
	value, ok := node.Attr(attr)
	if !ok {
		return absent()
	}
	return present(strings.TrimSpace(value))
}

// ResolveLink makes href absolute against base.
func ResolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

func compile(name, selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile %s selector %q: %w", name, selector, err)
	}
	return sel, nil
}
