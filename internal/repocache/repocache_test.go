package repocache

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// buildIndexArtifact packages packagesite.yaml content into the same
// xz-compressed tar shape a real pkg(8) packagesite.pkg artifact uses.
func buildIndexArtifact(t *testing.T, yamlContent string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	hdr := &tar.Header{Name: "packagesite.yaml", Size: int64(len(yamlContent)), Mode: 0644}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte(yamlContent))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return xzBuf.Bytes()
}

const sampleYAML = `{"name":"pkgconf","version":"2.1.0","origin":"devel/pkgconf","flatsize":12345,"deps":{}}
{"name":"vim","version":"9.1","origin":"editors/vim","pkgsize":999,"deps":{"pkgconf":{"origin":"devel/pkgconf","version":"2.1.0"}},"annotations":{"flavor":""}}
`

func newTestServer(t *testing.T, artifact []byte, etag string, packageBody []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/FreeBSD:14:amd64/latest/packagesite.pkg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodHead {
			return
		}
		w.Write(artifact)
	})
	mux.HandleFunc("/FreeBSD:14:amd64/latest/All/pkgconf-2.1.0.pkg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(packageBody)
	})
	return httptest.NewServer(mux)
}

func TestUpdate_PopulatesIndexAndByNameLookup(t *testing.T) {
	artifact := buildIndexArtifact(t, sampleYAML)
	srv := newTestServer(t, artifact, `"abc123"`, []byte("fake-pkg-bytes"))
	defer srv.Close()

	dir := t.TempDir()
	repo := New(srv.URL, "FreeBSD", "14", "amd64", "latest", dir)
	assert.False(t, repo.Initialized())

	err := repo.Update(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, repo.Initialized())

	info, err := repo.ByName("vim")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "9.1", info.Version)
	assert.Equal(t, "editors/vim", info.Origin)
}

func TestUpdate_SkipsRefetchWhenETagMatches(t *testing.T) {
	var getCount int32
	artifact := buildIndexArtifact(t, sampleYAML)

	mux := http.NewServeMux()
	mux.HandleFunc("/FreeBSD:14:amd64/latest/packagesite.pkg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"same"`)
		if r.Method == http.MethodGet {
			atomic.AddInt32(&getCount, 1)
			w.Write(artifact)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	repo := New(srv.URL, "FreeBSD", "14", "amd64", "latest", dir)

	require.NoError(t, repo.Update(context.Background(), true))
	assert.Equal(t, int32(1), atomic.LoadInt32(&getCount))

	require.NoError(t, repo.Update(context.Background(), false))
	assert.Equal(t, int32(1), atomic.LoadInt32(&getCount), "unforced update with matching etag must not re-GET")
}

func TestUpdate_ForceAlwaysRefetches(t *testing.T) {
	var getCount int32
	artifact := buildIndexArtifact(t, sampleYAML)

	mux := http.NewServeMux()
	mux.HandleFunc("/FreeBSD:14:amd64/latest/packagesite.pkg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"same"`)
		if r.Method == http.MethodGet {
			atomic.AddInt32(&getCount, 1)
			w.Write(artifact)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	repo := New(srv.URL, "FreeBSD", "14", "amd64", "latest", t.TempDir())
	require.NoError(t, repo.Update(context.Background(), true))
	require.NoError(t, repo.Update(context.Background(), true))
	assert.Equal(t, int32(2), atomic.LoadInt32(&getCount))
}

func TestLoadFromDisk_PersistsAcrossInstances(t *testing.T) {
	artifact := buildIndexArtifact(t, sampleYAML)
	srv := newTestServer(t, artifact, `"abc"`, nil)
	defer srv.Close()

	dir := t.TempDir()
	repo1 := New(srv.URL, "FreeBSD", "14", "amd64", "latest", dir)
	require.NoError(t, repo1.Update(context.Background(), true))

	repo2 := New(srv.URL, "FreeBSD", "14", "amd64", "latest", dir)
	assert.True(t, repo2.Initialized())
	info, err := repo2.ByName("pkgconf")
	require.NoError(t, err)
	require.NotNil(t, info)
}

func TestGetPackage_FetchesAndCaches(t *testing.T) {
	var fetchCount int32
	artifact := buildIndexArtifact(t, sampleYAML)

	mux := http.NewServeMux()
	mux.HandleFunc("/FreeBSD:14:amd64/latest/packagesite.pkg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"x"`)
		w.Write(artifact)
	})
	mux.HandleFunc("/FreeBSD:14:amd64/latest/All/pkgconf-2.1.0.pkg", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetchCount, 1)
		w.Write([]byte("pkg-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	repo := New(srv.URL, "FreeBSD", "14", "amd64", "latest", dir)
	require.NoError(t, repo.Update(context.Background(), true))

	info, err := repo.ByName("pkgconf")
	require.NoError(t, err)

	fetched, err := repo.GetPackage(context.Background(), info)
	require.NoError(t, err)
	assert.FileExists(t, fetched.Path)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetchCount))

	// Second call hits the on-disk cache, no second network fetch.
	_, err = repo.GetPackage(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetchCount))
}

func TestByName_UninitializedReturnsError(t *testing.T) {
	repo := New("http://example.invalid", "FreeBSD", "14", "amd64", "latest", t.TempDir())
	_, err := repo.ByName("vim")
	assert.Error(t, err)
}
