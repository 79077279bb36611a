package summary

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reprise/internal/model"
)

func TestWrite_SortsByOriginAndIncludesHeader(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, []Entry{
		{Origin: "www/nginx", Status: model.StatusSuccess, Duration: 12 * time.Second},
		{Origin: "editors/vim", Status: model.StatusBuildFailed, Duration: 3 * time.Second, Details: "compile error"},
	})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines[0], "ORIGIN")
	vimIdx := strings.Index(out, "editors/vim")
	nginxIdx := strings.Index(out, "www/nginx")
	assert.True(t, vimIdx < nginxIdx, "editors/vim should sort before www/nginx")
	assert.Contains(t, out, "compile error")
}

func TestWriteCounts_TalliesEachStatus(t *testing.T) {
	var buf bytes.Buffer
	WriteCounts(&buf, []Entry{
		{Origin: "a/a", Status: model.StatusSuccess},
		{Origin: "b/b", Status: model.StatusSuccess},
		{Origin: "c/c", Status: model.StatusFetchFailed},
		{Origin: "d/d", Status: model.StatusSkipped},
	})

	out := buf.String()
	assert.Contains(t, out, "4 jobs")
	assert.Contains(t, out, "success=2")
	assert.Contains(t, out, "fetch_failed=1")
	assert.Contains(t, out, "skipped=1")
}

func TestFromResult_NilResultBecomesCrashed(t *testing.T) {
	entry := FromResult("a/a", nil, time.Second)
	assert.Equal(t, model.StatusCrashed, entry.Status)
	assert.Equal(t, "a/a", entry.Origin)
}

func TestFromResult_CopiesStatusAndDetails(t *testing.T) {
	result := &model.JobResult{Status: model.StatusTestFailed, Details: "timed out waiting for X"}
	entry := FromResult("net/curl", result, 5*time.Second)
	assert.Equal(t, model.StatusTestFailed, entry.Status)
	assert.Equal(t, "timed out waiting for X", entry.Details)
	assert.Equal(t, 5*time.Second, entry.Duration)
}
