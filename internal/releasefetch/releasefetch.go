// Package releasefetch implements jailtemplate.Fetcher against the
// public FreeBSD release distribution server, the same "plain HTTPS
// from a configurable base" shape repocache uses for package fetches —
// reusing net/http directly rather than introducing a second client
// type, since both concerns are "GET a file, write it to a path".
package releasefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"reprise/internal/model"
)

// HTTPFetcher fetches release tarballs (base.txz, etc.) from a release
// server laid out as <BaseURL>/<arch>/<version>/<name>.
type HTTPFetcher struct {
	BaseURL string // e.g. https://download.freebsd.org/ftp/releases
	client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: baseURL, client: &http.Client{Timeout: 30 * time.Minute}}
}

func (f *HTTPFetcher) FetchReleaseTarball(ctx context.Context, spec model.JailSpec, name, destPath string) error {
	url := fmt.Sprintf("%s/%s/%s/%s", f.BaseURL, spec.Arch, spec.Version, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("releasefetch: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("releasefetch: GET %s: status %d", url, resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, destPath)
}

var _ interface {
	FetchReleaseTarball(ctx context.Context, spec model.JailSpec, name, destPath string) error
} = (*HTTPFetcher)(nil)
