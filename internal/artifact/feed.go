package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrNoMatchingArtifact is returned when a feed index lists no file for the
// requested package and version.
var ErrNoMatchingArtifact = errors.New("no matching artifact found")

// maxIndexBytes bounds the size of a simple-index page.
const maxIndexBytes = 10 << 20

// FeedBaseURL builds the PyPI simple-index root of an Azure DevOps Artifacts feed.
func FeedBaseURL(organization, project, feed string) string {
	return fmt.Sprintf("https://pkgs.dev.azure.com/%s/%s/_packaging/%s/pypi/simple",
		url.PathEscape(organization), url.PathEscape(project), url.PathEscape(feed))
}

// FeedIndex resolves download URLs from a PEP 503 simple index.
type FeedIndex struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (f FeedIndex) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Link is an anchor of an index page.
type Link struct {
	Text string
	Href string
}

// Lookup returns the download URL of the first file on the package page whose
// link text starts with "name-version-" (or "name-" when version is empty).
// Names are compared in normalized form.
func (f FeedIndex) Lookup(ctx context.Context, name, version string) (string, error) {
	pageURL := strings.TrimRight(f.BaseURL, "/") + "/" + url.PathEscape(name) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", err
	}
	if f.Token != "" {
		req.SetBasicAuth("", f.Token)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch index %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch index %s: unexpected status %d", pageURL, resp.StatusCode)
	}
	links, err := ParseLinks(io.LimitReader(resp.Body, maxIndexBytes))
	if err != nil {
		return "", fmt.Errorf("parse index %s: %w", pageURL, err)
	}
	link, ok := SelectLink(links, name, version)
	if !ok {
		if version != "" {
			return "", fmt.Errorf("%w: %s==%s in %s", ErrNoMatchingArtifact, name, version, pageURL)
		}
		return "", fmt.Errorf("%w: %s in %s", ErrNoMatchingArtifact, name, pageURL)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(link.Href)
	if err != nil {
		return "", fmt.Errorf("bad href %q: %w", link.Href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ParseLinks returns every anchor with an href attribute, in document order.
func ParseLinks(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					links = append(links, Link{Text: strings.TrimSpace(textOf(n)), Href: attr.Val})
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// SelectLink picks the first wheel link whose text starts with the package
// name and, when given, the version, followed by a "-".
// "foo-2.0-py3-none-any.whl" is selected for version "2.0";
// "foo-2.0.1-py3-none-any.whl" is not. Source distributions are skipped.
func SelectLink(links []Link, name, version string) (Link, bool) {
	want := NormalizeName(name)
	for _, l := range links {
		if !strings.HasSuffix(strings.ToLower(l.Text), ".whl") {
			continue
		}
		dist, rest, ok := strings.Cut(l.Text, "-")
		if !ok || NormalizeName(dist) != want {
			continue
		}
		if version == "" || strings.HasPrefix(rest, version+"-") {
			return l, true
		}
	}
	return Link{}, false
}
