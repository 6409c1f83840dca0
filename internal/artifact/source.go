package artifact

import (
	"context"
	"errors"
)

// Source produces the wheel to publish.
type Source interface {
	Fetch(ctx context.Context) (*Artifact, error)
	Describe() string
}

// URLSource downloads a wheel from a fixed URL.
type URLSource struct {
	Downloader Downloader
	URL        string
}

func (s URLSource) Fetch(ctx context.Context) (*Artifact, error) {
	if s.URL == "" {
		return nil, errors.New("artifact url is empty")
	}
	return s.Downloader.FetchURL(ctx, s.URL)
}

func (s URLSource) Describe() string { return redactURL(s.URL) }

// FeedSource resolves a wheel on a package feed and downloads it with the
// feed token as basic-auth password.
type FeedSource struct {
	Index      FeedIndex
	Downloader Downloader
	Package    string
	Version    string
}

func (s FeedSource) Fetch(ctx context.Context) (*Artifact, error) {
	href, err := s.Index.Lookup(ctx, s.Package, s.Version)
	if err != nil {
		return nil, err
	}
	d := s.Downloader
	if d.Username == "" && d.Password == "" {
		d.Password = s.Index.Token
	}
	if d.Client == nil {
		d.Client = s.Index.Client
	}
	return d.FetchURL(ctx, href)
}

func (s FeedSource) Describe() string {
	if s.Version != "" {
		return s.Package + "==" + s.Version + " from " + s.Index.BaseURL
	}
	return s.Package + " from " + s.Index.BaseURL
}
