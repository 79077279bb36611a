// Package repocache implements the remote binary-package repository
// cache: a content-addressed on-disk cache of the index and of
// individual package files, with conditional refresh, single-flight
// fetch coalescing, and atomic persistence. Grounded on the teacher's
// builddb/db.go (bbolt persistence, atomic-replace via %s.new + fsync +
// rename, schema-tagged records) generalized from a build-attempt
// ledger into a remote-index cache.
package repocache

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ulikunitz/xz"

	"reprise/internal/metrics"
	"reprise/internal/model"
	"reprise/internal/rlog"
	"reprise/internal/task"
)

const (
	indexFileName    = "packagesite.pickle"
	indexScratchName = "packagesite.pickle.new"
	indexArtifact    = "packagesite.pkg"
	indexMember      = "packagesite.yaml"
)

// diskIndex is the gob-encoded envelope written to packagesite.pickle.
type diskIndex struct {
	SchemaTag  string
	ETag       string
	LastUpdate time.Time
	Packages   []model.PackageInfo
}

// Repository caches one (system, release, arch, branch) package index
// plus fetched package files.
type Repository struct {
	BaseURL string // e.g. https://pkg.FreeBSD.org
	System  string
	Release string
	Arch    string
	Branch  string
	Dir     string // on-disk cache directory for this repository

	client *http.Client
	log    rlog.Logger

	mu          sync.RWMutex
	meta        *model.RepositoryMetadata
	initialized bool

	inflightMu sync.Mutex
	inflight   map[string]chan struct{}
}

// New constructs a Repository and attempts to load its on-disk index.
func New(baseURL, system, release, arch, branch, dir string) *Repository {
	r := &Repository{
		BaseURL:  baseURL,
		System:   system,
		Release:  release,
		Arch:     arch,
		Branch:   branch,
		Dir:      dir,
		client:   &http.Client{Timeout: 5 * time.Minute},
		log:      rlog.With("component", "repocache", "abi", system+":"+release+":"+arch+":"+branch),
		inflight: make(map[string]chan struct{}),
	}
	r.loadFromDisk()
	return r
}

func (r *Repository) abiPath() string {
	return fmt.Sprintf("%s:%s:%s/%s", r.System, r.Release, r.Arch, r.Branch)
}

func (r *Repository) indexURL() string {
	return fmt.Sprintf("%s/%s/%s", r.BaseURL, r.abiPath(), indexArtifact)
}

func (r *Repository) packageURL(filename string) string {
	return fmt.Sprintf("%s/%s/All/%s", r.BaseURL, r.abiPath(), filename)
}

// loadFromDisk attempts to decode the persisted index. If the file is
// missing, corrupt, or its schema tag mismatches the current code's
// tag, the cache remains uninitialized.
func (r *Repository) loadFromDisk() {
	path := filepath.Join(r.Dir, indexFileName)
	f, err := os.Open(path)
	if err != nil {
		r.log.Debugf("repocache: no existing index at %s: %v", path, err)
		return
	}
	defer f.Close()

	var disk diskIndex
	if err := gob.NewDecoder(f).Decode(&disk); err != nil {
		r.log.Warnf("repocache: corrupt index at %s: %v", path, err)
		return
	}
	if disk.SchemaTag != model.IndexSchemaTag {
		r.log.Warnf("repocache: index schema tag mismatch (%s != %s), discarding", disk.SchemaTag, model.IndexSchemaTag)
		return
	}

	r.mu.Lock()
	r.meta = model.NewRepositoryMetadata(disk.ETag, disk.LastUpdate, disk.Packages)
	r.initialized = true
	r.mu.Unlock()
}

// persist atomically writes meta to disk: write to .new, fsync, rename.
func (r *Repository) persist() error {
	r.mu.RLock()
	disk := diskIndex{
		SchemaTag:  model.IndexSchemaTag,
		ETag:       r.meta.ETag,
		LastUpdate: r.meta.LastUpdate,
		Packages:   r.meta.Packages,
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return err
	}
	scratchPath := filepath.Join(r.Dir, indexScratchName)
	finalPath := filepath.Join(r.Dir, indexFileName)

	f, err := os.Create(scratchPath)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&disk); err != nil {
		f.Close()
		os.Remove(scratchPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(scratchPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(scratchPath)
		return err
	}
	return os.Rename(scratchPath, finalPath)
}

// Initialized reports whether the cache has a loaded index.
func (r *Repository) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Update conditionally refreshes the index: HEADs the index URL and
// compares ETags unless force is set, then GETs, extracts, parses, and
// atomically persists the new index.
func (r *Repository) Update(ctx context.Context, force bool) error {
	if !force {
		r.mu.RLock()
		haveETag := r.initialized
		oldETag := ""
		if r.meta != nil {
			oldETag = r.meta.ETag
		}
		r.mu.RUnlock()

		if haveETag {
			serverETag, err := r.headETag(ctx)
			if err == nil && serverETag != "" && serverETag == oldETag {
				r.log.Debug("repocache: index unchanged (etag match)")
				return nil
			}
		}
	}

	etag, data, err := r.getIndexArtifact(ctx)
	if err != nil {
		return fmt.Errorf("repocache: fetch index: %w", err)
	}

	yamlData, err := extractMember(data, indexMember)
	if err != nil {
		return fmt.Errorf("repocache: extract %s: %w", indexMember, err)
	}

	packages, err := parsePackageSiteYAML(yamlData)
	if err != nil {
		return fmt.Errorf("repocache: parse %s: %w", indexMember, err)
	}

	r.mu.Lock()
	r.meta = model.NewRepositoryMetadata(etag, time.Now(), packages)
	r.initialized = true
	r.mu.Unlock()

	return r.persist()
}

func (r *Repository) headETag(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.indexURL(), nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Header.Get("ETag"), nil
}

func (r *Repository) getIndexArtifact(ctx context.Context) (etag string, data []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.indexURL(), nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("GET %s: status %d", r.indexURL(), resp.StatusCode)
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return resp.Header.Get("ETag"), data, nil
}

// extractMember decodes a .pkg artifact (an xz-compressed tar archive,
// the canonical FreeBSD pkg format) and returns the named member's raw
// bytes.
func extractMember(pkgData []byte, member string) ([]byte, error) {
	xr, err := xz.NewReader(bytes.NewReader(pkgData))
	if err != nil {
		return nil, err
	}
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("member %s not found", member)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == member || filepath.Base(hdr.Name) == member {
			return io.ReadAll(tr)
		}
	}
}

// parsePackageSiteYAML parses packagesite.yaml, which despite its name
// is a multi-value JSON stream (one JSON object per line) — decoded
// here with encoding/json.Decoder's native multi-value support, the
// one stdlib-only parsing choice in the wire layer (see DESIGN.md).
func parsePackageSiteYAML(data []byte) ([]model.PackageInfo, error) {
	type record struct {
		Name    string   `json:"name"`
		Version string   `json:"version"`
		Origin  string   `json:"origin"`
		FlatSz  int64    `json:"flatsize"`
		PkgSz   int64    `json:"pkgsize"`
		Deps    map[string]struct {
			Origin  string `json:"origin"`
			Version string `json:"version"`
		} `json:"deps"`
		Annotations struct {
			Flavor string `json:"flavor"`
		} `json:"annotations"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var out []model.PackageInfo
	for {
		var rec record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		size := rec.PkgSz
		if size == 0 {
			size = rec.FlatSz
		}
		var deps []string
		for name := range rec.Deps {
			deps = append(deps, name)
		}
		out = append(out, model.PackageInfo{
			Name:         rec.Name,
			Version:      rec.Version,
			Origin:       rec.Origin,
			Size:         size,
			Flavor:       rec.Annotations.Flavor,
			Dependencies: deps,
		})
	}
	return out, nil
}

// ByName, ByNameVer, ByPort query the loaded index; they fail if the
// cache is uninitialized.
func (r *Repository) ByName(name string) (*model.PackageInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, fmt.Errorf("repocache: %s: not initialized", r.abiPath())
	}
	p, ok := r.meta.ByName(name)
	if !ok {
		metrics.IncCacheLookup("miss")
		return nil, nil
	}
	metrics.IncCacheLookup("hit")
	return p, nil
}

func (r *Repository) ByNameVer(nameVer string) (*model.PackageInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, fmt.Errorf("repocache: %s: not initialized", r.abiPath())
	}
	p, ok := r.meta.ByNameVer(nameVer)
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *Repository) ByPort(port model.Port) (*model.PackageInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return nil, fmt.Errorf("repocache: %s: not initialized", r.abiPath())
	}
	p, ok := r.meta.ByPort(port)
	if !ok {
		return nil, nil
	}
	return p, nil
}

// GetPackage returns a task.Fetched handle for info, fetching it from
// the remote repository if not already cached. Concurrent callers for
// the same filename coalesce onto a single network fetch: the caller
// that wins registers a channel in r.inflight; waiters block on it,
// then re-check the file, never on a per-filename lock object (the
// spec's "set + signal" shape — see DESIGN.md and spec.md §9). The
// return type is task.Fetched directly (rather than a repocache-local
// type) so repocache.Repository satisfies task.PackageFetcher without
// an adapter.
func (r *Repository) GetPackage(ctx context.Context, info *model.PackageInfo) (*task.Fetched, error) {
	filename := info.Filename()
	path := filepath.Join(r.Dir, filename)

	for {
		if _, err := os.Stat(path); err == nil {
			return &task.Fetched{Path: path, Info: info}, nil
		}

		r.inflightMu.Lock()
		if ch, ok := r.inflight[filename]; ok {
			r.inflightMu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		r.inflight[filename] = ch
		r.inflightMu.Unlock()

		err := r.fetchPackage(ctx, filename, path)

		r.inflightMu.Lock()
		delete(r.inflight, filename)
		r.inflightMu.Unlock()
		close(ch)

		if err != nil {
			return nil, err
		}
		metrics.IncPackageFetched()
		return &task.Fetched{Path: path, Info: info}, nil
	}
}

func (r *Repository) fetchPackage(ctx context.Context, filename, finalPath string) error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return err
	}
	tmpPath := finalPath + ".tmp"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.packageURL(filename), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", r.packageURL(filename), resp.StatusCode)
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
