package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/logger"
)

const stateFileName = "scan-mcp.json"

// Service persists the single last-used-device preference. It is a
// soft hint: reads tolerate a missing or corrupt file, and concurrent
// writes are last-writer-wins with no locking.
type Service struct {
	log     *logger.Logger
	path    string
	enabled bool
}

type stateFile struct {
	DeviceID string `json:"device_id"`
}

func New(cfg config.Config) *Service {
	return &Service{
		log:     logger.New("StateService"),
		path:    filepath.Join(cfg.StateDir, stateFileName),
		enabled: cfg.PersistLastDevice,
	}
}

// LastDeviceID returns the remembered device id, or "" when
// persistence is disabled or nothing usable is on disk.
func (s *Service) LastDeviceID() string {
	if !s.enabled {
		return ""
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var st stateFile
	if err := json.Unmarshal(b, &st); err != nil {
		return ""
	}
	return st.DeviceID
}

// SetLastDeviceID records the device a job completed with. Failures
// are logged and swallowed; the hint must never fail a job.
func (s *Service) SetLastDeviceID(deviceID string) {
	if !s.enabled || deviceID == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.LogError("failed to create state dir", err)
		return
	}
	b, _ := json.Marshal(stateFile{DeviceID: deviceID})
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		s.log.LogError("failed to write last-used device", err)
	}
}

// Path exposes the state file location for diagnostics.
func (s *Service) Path() string { return s.path }
