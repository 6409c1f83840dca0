package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DownloadError reports a non-2xx response from an artifact host.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

// Downloader fetches artifacts over HTTP into Dir.
type Downloader struct {
	Dir      string
	Username string
	Password string
	Client   *http.Client
}

func (d Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

// FilenameFromURL returns the last path segment of rawURL. Query strings and
// fragments (feeds append "#sha256=...") are not part of the name.
func FilenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name, err := url.PathUnescape(path.Base(u.EscapedPath()))
	if err != nil {
		return "", fmt.Errorf("filename in url %s: %w", redactURL(rawURL), err)
	}
	switch {
	case name == "" || name == "." || name == ".." || name == "/":
		return "", fmt.Errorf("no filename in url %s", redactURL(rawURL))
	case strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("filename %q in url %s contains a path separator", name, redactURL(rawURL))
	}
	return name, nil
}

// FetchURL downloads rawURL into Dir under the URL's filename.
func (d Downloader) FetchURL(ctx context.Context, rawURL string) (*Artifact, error) {
	name, err := FilenameFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	if d.Username != "" || d.Password != "" {
		req.SetBasicAuth(d.Username, d.Password)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redactURL(rawURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &DownloadError{URL: redactURL(rawURL), StatusCode: resp.StatusCode}
	}

	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dest := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("download %s: %w", redactURL(rawURL), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return &Artifact{Path: dest, Filename: name}, nil
}

// redactURL drops credentials, query and fragment before a URL is logged.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSpace(u.String())
}
