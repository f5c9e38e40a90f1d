package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/core/device"
	"github.com/jacksenechal/scan-mcp/internal/core/state"
)

func newMockService(t *testing.T, mut func(*config.Config)) (*Service, config.Config) {
	t.Helper()
	cfg := config.Config{
		InboxDir:          t.TempDir(),
		StateDir:          t.TempDir(),
		ExcludeBackends:   []string{"v4l"},
		ScanMock:          true,
		MockPageCount:     2,
		PersistLastDevice: true,
		TiffcpBin:         "tiffcp",
		ConvertBin:        "convert",
	}
	if mut != nil {
		mut(&cfg)
	}
	p := &fakeProber{
		devices: []device.Device{{ID: "epjitsu:libusb:001:004", Vendor: "FUJITSU", Model: "ScanSnap S1500"}},
		opts:    map[string]device.Options{"epjitsu:libusb:001:004": fullOpts},
	}
	return NewService(cfg, p, state.New(cfg), nil), cfg
}

func eventTypes(t *testing.T, runDir string) []string {
	t.Helper()
	events, err := ReadEvents(runDir)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestStartMockRunCompletes(t *testing.T) {
	svc, cfg := newMockService(t, nil)

	res, err := svc.Start(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Regexp(t, `^job-`, res.JobID)
	assert.Equal(t, filepath.Join(cfg.InboxDir, res.JobID), res.RunDir)

	m, err := ReadManifest(res.RunDir)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, m.State)
	assert.Equal(t, "epjitsu:libusb:001:004", m.DeviceID)
	require.Len(t, m.Pages, 2)
	require.Len(t, m.Documents, 1)
	assert.Equal(t, []int{1, 2}, m.Documents[0].Pages)
	for _, p := range m.Pages {
		assert.FileExists(t, p.Path)
		assert.Len(t, p.SHA256, 64)
	}
	assert.FileExists(t, m.Documents[0].Path)

	types := eventTypes(t, res.RunDir)
	assert.Equal(t, EventJobStarted, types[0])
	assert.Contains(t, types, EventPageCaptured)
	assert.Equal(t, EventJobCompleted, types[len(types)-1])

	// The completed run remembers its device for the next selection.
	assert.Equal(t, "epjitsu:libusb:001:004", state.New(cfg).LastDeviceID())

	assert.Zero(t, svc.registry.len())
}

func TestStartRespectsTmpDirOverride(t *testing.T) {
	svc, _ := newMockService(t, nil)
	tmp := t.TempDir()

	res, err := svc.Start(context.Background(), Request{TmpDir: tmp})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.True(t, strings.HasPrefix(res.RunDir, tmp+string(filepath.Separator)))
}

func TestCancelBeforeRunWins(t *testing.T) {
	svc, _ := newMockService(t, nil)

	m, err := svc.Create(context.Background(), Request{})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), m.JobID))

	// Execution after cancel is a no-op; cancelled is sticky.
	require.NoError(t, svc.Run(context.Background(), m.RunDir))

	final, err := ReadManifest(m.RunDir)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, final.State)

	types := eventTypes(t, m.RunDir)
	count := 0
	for _, typ := range types {
		if typ == EventJobCancelled {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.NotContains(t, types, EventJobCompleted)
}

func TestCancelCancelledJobIsTerminal(t *testing.T) {
	svc, _ := newMockService(t, nil)

	m, err := svc.Create(context.Background(), Request{})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), m.JobID))
	assert.ErrorIs(t, svc.Cancel(context.Background(), m.JobID), ErrAlreadyTerminal)
}

func TestCancelCompletedJobFlipsState(t *testing.T) {
	svc, _ := newMockService(t, nil)

	res, err := svc.Start(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)

	require.NoError(t, svc.Cancel(context.Background(), res.JobID))
	status, err := svc.GetStatus(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, status.State)
}

func TestCancelUnknownJob(t *testing.T) {
	svc, _ := newMockService(t, nil)
	assert.ErrorIs(t, svc.Cancel(context.Background(), NewJobID()), ErrNotFound)
}

func TestInvalidJobIDsRejected(t *testing.T) {
	svc, _ := newMockService(t, nil)
	for _, id := range []string{"", "job-123", "../../etc/passwd", "manifest.json"} {
		_, err := svc.GetStatus(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidJobID, "status %q", id)
		assert.ErrorIs(t, svc.Cancel(context.Background(), id), ErrInvalidJobID, "cancel %q", id)
	}
}

func TestGetStatusMissingManifestIsUnknown(t *testing.T) {
	svc, _ := newMockService(t, nil)
	status, err := svc.GetStatus(context.Background(), NewJobID())
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, status.State)
}

func TestPageCountPolicySegmentsDocuments(t *testing.T) {
	svc, _ := newMockService(t, func(c *config.Config) { c.MockPageCount = 5 })

	res, err := svc.Start(context.Background(), Request{
		DocBreakPolicy: &BreakPolicy{Type: BreakPageCount, PageCount: 2},
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)

	m, err := ReadManifest(res.RunDir)
	require.NoError(t, err)
	require.Len(t, m.Pages, 5)
	require.Len(t, m.Documents, 3)
	assert.Equal(t, []int{1, 2}, m.Documents[0].Pages)
	assert.Equal(t, []int{3, 4}, m.Documents[1].Pages)
	assert.Equal(t, []int{5}, m.Documents[2].Pages)
}

func TestUnsupportedPolicyDegradesToOneDocument(t *testing.T) {
	svc, _ := newMockService(t, func(c *config.Config) { c.MockPageCount = 3 })

	res, err := svc.Start(context.Background(), Request{
		DocBreakPolicy: &BreakPolicy{Type: BreakBlankPage, BlankThreshold: 0.95},
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, res.State)

	m, err := ReadManifest(res.RunDir)
	require.NoError(t, err)
	require.Len(t, m.Documents, 1)
	assert.Equal(t, []int{1, 2, 3}, m.Documents[0].Pages)

	assert.Contains(t, eventTypes(t, res.RunDir), EventDocBreakUnsupported)
}

func TestAllCommandsFailingIsJobError(t *testing.T) {
	svc, _ := newMockService(t, func(c *config.Config) {
		c.ScanMock = false
		c.ScanimageBin = filepath.Join(t.TempDir(), "no-scanimage")
		c.ScanadfBin = filepath.Join(t.TempDir(), "no-scanadf")
	})

	res, err := svc.Start(context.Background(), Request{DeviceID: "epjitsu:libusb:001:004", Source: device.SourceADF})
	require.NoError(t, err)
	assert.Equal(t, StateError, res.State)

	m, err := ReadManifest(res.RunDir)
	require.NoError(t, err)
	assert.Equal(t, "all scanner commands failed", m.Error)

	types := eventTypes(t, res.RunDir)
	assert.Contains(t, types, EventScannerExec)
	assert.Contains(t, types, EventScannerPrimaryFailed)
	assert.Contains(t, types, EventScannerFailed)
	assert.Equal(t, EventJobError, types[len(types)-1])

	assert.Zero(t, svc.registry.len())
}

func TestFailureRecordsExitCode(t *testing.T) {
	svc, _ := newMockService(t, func(c *config.Config) {
		c.ScanMock = false
		c.ScanimageBin = "false"
	})

	res, err := svc.Start(context.Background(), Request{DeviceID: "epjitsu:libusb:001:004", Source: device.SourceFlatbed})
	require.NoError(t, err)
	assert.Equal(t, StateError, res.State)

	events, err := ReadEvents(res.RunDir)
	require.NoError(t, err)
	var failed *Event
	for i := range events {
		if events[i].Type == EventScannerFailed {
			failed = &events[i]
		}
	}
	require.NotNil(t, failed)
	assert.EqualValues(t, 1, failed.Data["exit_code"])
}

func TestPartialPagesPreservedOnFailure(t *testing.T) {
	svc, _ := newMockService(t, func(c *config.Config) {
		c.ScanMock = false
		c.ScanimageBin = "false"
	})

	m, err := svc.Create(context.Background(), Request{DeviceID: "epjitsu:libusb:001:004", Source: device.SourceFlatbed})
	require.NoError(t, err)

	// Simulate a capture that produced one page before the tool died.
	partial := filepath.Join(m.RunDir, "page_0001.tiff")
	require.NoError(t, os.WriteFile(partial, []byte("partial"), 0o644))

	require.NoError(t, svc.Run(context.Background(), m.RunDir))

	final, err := ReadManifest(m.RunDir)
	require.NoError(t, err)
	assert.Equal(t, StateError, final.State)
	require.Len(t, final.Pages, 1)
	assert.Equal(t, partial, final.Pages[0].Path)
	assert.Contains(t, eventTypes(t, m.RunDir), EventPageCaptured)
}

func TestCancelDuringCaptureStopsPipeline(t *testing.T) {
	binDir := t.TempDir()
	marker := filepath.Join(binDir, "fallback-ran")
	slow := filepath.Join(binDir, "slow-scanadf")
	require.NoError(t, os.WriteFile(slow, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	markerBin := filepath.Join(binDir, "marker-scanimage")
	require.NoError(t, os.WriteFile(markerBin, []byte("#!/bin/sh\ntouch '"+marker+"'\n"), 0o755))

	svc, _ := newMockService(t, func(c *config.Config) {
		c.ScanMock = false
		c.ScanadfBin = slow
		c.ScanimageBin = markerBin
	})

	m, err := svc.Create(context.Background(), Request{DeviceID: "epjitsu:libusb:001:004", Source: device.SourceADF})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background(), m.RunDir) }()

	// Wait for the primary command to be live, then cancel it.
	require.Eventually(t, func() bool { return svc.registry.len() > 0 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Cancel(context.Background(), m.JobID))
	require.NoError(t, <-done)

	final, err := ReadManifest(m.RunDir)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, final.State)

	// The fallback candidate never launches after cancellation.
	assert.NoFileExists(t, marker)

	types := eventTypes(t, m.RunDir)
	assert.Equal(t, EventJobCancelled, types[len(types)-1])
	execs := 0
	for _, typ := range types {
		if typ == EventScannerExec {
			execs++
		}
	}
	assert.Equal(t, 1, execs)

	assert.Zero(t, svc.registry.len())
}

func TestStartAsyncReturnsRunning(t *testing.T) {
	svc, _ := newMockService(t, nil)

	res, err := svc.StartAsync(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, res.State)

	// The background run finishes on its own; poll the manifest.
	require.Eventually(t, func() bool {
		m, err := ReadManifest(res.RunDir)
		return err == nil && m.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	m, err := ReadManifest(res.RunDir)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, m.State)
}

func TestListReflectsRuns(t *testing.T) {
	svc, _ := newMockService(t, nil)

	a, err := svc.Start(context.Background(), Request{})
	require.NoError(t, err)
	b, err := svc.Start(context.Background(), Request{})
	require.NoError(t, err)

	jobs, err := svc.List(context.Background(), ListJobsInput{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].JobID, jobs[1].JobID}
	assert.Contains(t, ids, a.JobID)
	assert.Contains(t, ids, b.JobID)
	for _, j := range jobs {
		assert.Equal(t, StateCompleted, j.State)
		assert.Equal(t, 2, j.Pages)
	}
}
