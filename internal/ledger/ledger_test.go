package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprise/internal/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndGet(t *testing.T) {
	l := openTestLedger(t)
	rec := &Record{UUID: "u1", Origin: "editors/vim", Status: model.StatusSuccess, StartTime: time.Now()}
	require.NoError(t, l.Record(rec))

	got, err := l.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "editors/vim", got.Origin)
	assert.Equal(t, model.StatusSuccess, got.Status)
}

func TestLatestFor_TracksMostRecentUUID(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.Record(&Record{UUID: "u1", Origin: "editors/vim", Status: model.StatusBuildFailed, StartTime: time.Now()}))
	require.NoError(t, l.Record(&Record{UUID: "u2", Origin: "editors/vim", Status: model.StatusSuccess, StartTime: time.Now()}))

	got, err := l.LatestFor("editors/vim")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.UUID)
	assert.Equal(t, model.StatusSuccess, got.Status)
}

func TestLatestFor_MissingOriginReturnsNotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.LatestFor("nonexistent/port")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGet_EmptyUUIDRejected(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Get("")
	assert.ErrorIs(t, err, ErrEmptyUUID)
}

func TestRecent_OrdersNewestFirstAndRespectsLimit(t *testing.T) {
	l := openTestLedger(t)
	base := time.Now()
	require.NoError(t, l.Record(&Record{UUID: "u1", Origin: "a/a", StartTime: base}))
	require.NoError(t, l.Record(&Record{UUID: "u2", Origin: "b/b", StartTime: base.Add(time.Minute)}))
	require.NoError(t, l.Record(&Record{UUID: "u3", Origin: "c/c", StartTime: base.Add(2 * time.Minute)}))

	recs, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "u3", recs[0].UUID)
	assert.Equal(t, "u2", recs[1].UUID)
}

func TestFromResult(t *testing.T) {
	result := &model.JobResult{
		Spec:    &model.JobSpec{TargetOrigin: "www/nginx"},
		Status:  model.StatusFetchFailed,
		LogPath: "/logs/www_nginx.1.log",
	}
	start := time.Now()
	end := start.Add(5 * time.Second)
	rec := FromResult("u9", result, start, end)
	assert.Equal(t, "www/nginx", rec.Origin)
	assert.Equal(t, model.StatusFetchFailed, rec.Status)
	assert.Equal(t, "/logs/www_nginx.1.log", rec.LogPath)
}
