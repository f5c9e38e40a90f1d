package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacksenechal/scan-mcp/internal/config"
)

func TestLastDeviceRoundTrip(t *testing.T) {
	cfg := config.Config{StateDir: t.TempDir(), PersistLastDevice: true}
	s := New(cfg)

	assert.Empty(t, s.LastDeviceID())

	s.SetLastDeviceID("epjitsu:libusb:001:004")
	assert.Equal(t, "epjitsu:libusb:001:004", s.LastDeviceID())

	// A fresh instance reads the same file.
	assert.Equal(t, "epjitsu:libusb:001:004", New(cfg).LastDeviceID())
}

func TestLastDeviceDisabled(t *testing.T) {
	cfg := config.Config{StateDir: t.TempDir(), PersistLastDevice: false}
	s := New(cfg)

	s.SetLastDeviceID("epjitsu:libusb:001:004")
	assert.Empty(t, s.LastDeviceID())
	assert.NoFileExists(t, s.Path())
}

func TestLastDeviceCorruptFileTolerated(t *testing.T) {
	cfg := config.Config{StateDir: t.TempDir(), PersistLastDevice: true}
	s := New(cfg)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	assert.Empty(t, s.LastDeviceID())
}

func TestSetCreatesStateDir(t *testing.T) {
	cfg := config.Config{
		StateDir:          filepath.Join(t.TempDir(), "nested", ".state"),
		PersistLastDevice: true,
	}
	s := New(cfg)
	s.SetLastDeviceID("dev")
	assert.FileExists(t, s.Path())
}

func TestEmptyDeviceIDIgnored(t *testing.T) {
	cfg := config.Config{StateDir: t.TempDir(), PersistLastDevice: true}
	s := New(cfg)
	s.SetLastDeviceID("dev")
	s.SetLastDeviceID("")
	assert.Equal(t, "dev", s.LastDeviceID())
}
