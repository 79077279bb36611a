package task

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprise/internal/jail/mockjail"
	"reprise/internal/model"
)

type fakeFetcher struct {
	fetched *Fetched
	err     error
}

func (f *fakeFetcher) GetPackage(ctx context.Context, info *model.PackageInfo) (*Fetched, error) {
	return f.fetched, f.err
}

func TestPackage_FetchInstallTest(t *testing.T) {
	info := &model.PackageInfo{Name: "pkgconf", Version: "2.1.0", Origin: "devel/pkgconf"}
	fetcher := &fakeFetcher{fetched: &Fetched{Path: "/cache/pkgconf-2.1.0.pkg", Info: info}}
	p := NewPackage(info, fetcher)

	sandbox := mockjail.New()
	var log bytes.Buffer

	status, err := p.Fetch(context.Background(), sandbox, &log)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Contains(t, log.String(), "fetch pkgconf-2.1.0")

	status, err = p.Install(context.Background(), sandbox, &log)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	require.Len(t, sandbox.Calls, 1)
	assert.Equal(t, "pkg", sandbox.Calls[0].Program)
	assert.Equal(t, []string{"add", "-q", "/packages/pkgconf-2.1.0.pkg"}, sandbox.Calls[0].Args)

	status, err = p.Test(context.Background(), sandbox, &log)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
}

func TestPackage_FetchError(t *testing.T) {
	info := &model.PackageInfo{Name: "pkgconf", Version: "2.1.0", Origin: "devel/pkgconf"}
	fetcher := &fakeFetcher{err: assert.AnError}
	p := NewPackage(info, fetcher)

	var log bytes.Buffer
	status, err := p.Fetch(context.Background(), mockjail.New(), &log)
	assert.Error(t, err)
	assert.Equal(t, StatusFailure, status)
}

func TestPort_InstallShortCircuitsOnPackageFailure(t *testing.T) {
	port := model.NewPort("devel/pkgconf", "")
	sandbox := mockjail.New()
	sandbox.StreamExitCode = 1

	p := NewPort(port, "pkgconf-2.1.0", false, false, 0, 0, 0, nil)
	var log bytes.Buffer
	status, err := p.Install(context.Background(), sandbox, &log)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, status)
	// install-package must not have run after check-plist failed.
	assert.Len(t, sandbox.Calls, 1)
}

func TestPort_TestSkippedWhenDoTestFalse(t *testing.T) {
	port := model.NewPort("devel/pkgconf", "")
	p := NewPort(port, "pkgconf-2.1.0", false, false, 0, 0, 0, nil)
	sandbox := mockjail.New()
	var log bytes.Buffer
	status, err := p.Test(context.Background(), sandbox, &log)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Empty(t, sandbox.Calls)
}

func TestStatusFromExitCode(t *testing.T) {
	assert.Equal(t, StatusSuccess, statusFromExitCode(0))
	assert.Equal(t, StatusTimeout, statusFromExitCode(124))
	assert.Equal(t, StatusFailure, statusFromExitCode(1))
}
