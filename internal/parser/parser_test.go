package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<a href="/a">A</a>
<a href=" b.html ">B</a>
<a href="/a">A again</a>
<a href="https://other.com/x">elsewhere</a>
<a>no href</a>
<a href="">empty</a>
</body></html>`
	links, err := New().Extract(crawler.FetchResponse{
		URL:         "https://example.com/dir/",
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/a", "b.html", "https://other.com/x"}, links)
}

func TestExtractHonorsBaseHref(t *testing.T) {
	t.Parallel()

	body := `<html><head><base href="/docs/"></head><body><a href="intro">Intro</a></body></html>`
	links, err := New().Extract(crawler.FetchResponse{
		URL:         "https://example.com/index.html",
		ContentType: "text/html",
		Body:        []byte(body),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/docs/intro"}, links)
}

func TestExtractSkipsNonHTML(t *testing.T) {
	t.Parallel()

	links, err := New().Extract(crawler.FetchResponse{
		URL:         "https://example.com/data.json",
		ContentType: "application/json",
		Body:        []byte(`{"href":"/a"}`),
	})
	require.NoError(t, err)
	require.Empty(t, links)
}
