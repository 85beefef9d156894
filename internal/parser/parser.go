// Package parser extracts outbound links from fetched HTML.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

// HTML implements crawler.LinkExtractor with goquery.
type HTML struct{}

// New returns an HTML link extractor.
func New() *HTML {
	return &HTML{}
}

// Extract returns the href of every anchor in document order, duplicates removed.
// Hrefs are resolved against a <base href> when the document declares one; otherwise they
// are returned as written. Non-HTML responses yield no links.
func (HTML) Extract(resp crawler.FetchResponse) ([]string, error) {
	if !isHTML(resp.ContentType) {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", crawler.ErrFetchFailed, err)
	}

	var base *url.URL
	if raw, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if page, err := url.Parse(resp.URL); err == nil {
			if ref, err := url.Parse(strings.TrimSpace(raw)); err == nil {
				base = page.ResolveReference(ref)
			}
		}
	}

	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if base != nil {
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			href = base.ResolveReference(ref).String()
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
