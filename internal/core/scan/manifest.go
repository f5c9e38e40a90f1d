package scan

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ManifestFileName = "manifest.json"
	EventsFileName   = "events.jsonl"
	StdoutLogName    = "scanner.stdout.log"
	StderrLogName    = "scanner.stderr.log"

	maxListLimit     = 100
	defaultListLimit = 20
)

var jobIDRe = regexp.MustCompile(`^job-[0-9a-fA-F-]{36}$`)

// NewJobID allocates a globally unique, path-safe job identity.
func NewJobID() string {
	return "job-" + uuid.NewString()
}

// ResolveJobPath validates a job id and maps it to its run directory.
// Ids that fail structural validation or escape the base directory
// return ErrInvalidJobID; nothing outside baseDir is ever touched.
func ResolveJobPath(jobID, baseDir string) (string, error) {
	if !jobIDRe.MatchString(jobID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, jobID)
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return full, nil
}

// ReadManifest loads a job's manifest snapshot. A missing file is
// ErrNotFound; readers tolerate this for jobs that just started.
func ReadManifest(runDir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(runDir, ManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest atomically replaces the manifest snapshot so concurrent
// readers never observe a partial write.
func WriteManifest(m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	dest := filepath.Join(m.RunDir, ManifestFileName)
	tmp, err := os.CreateTemp(m.RunDir, ManifestFileName+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// NewEvent stamps an event record with the current time.
func NewEvent(eventType string, data map[string]interface{}) Event {
	return Event{TS: time.Now().UTC().Format(time.RFC3339Nano), Type: eventType, Data: data}
}

// AppendEvent appends one JSON line to the job's event log. The log is
// append-only; records are never rewritten.
func AppendEvent(runDir string, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(runDir, EventsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// ReadEvents returns a job's full event log in order.
func ReadEvents(runDir string) ([]Event, error) {
	f, err := os.Open(filepath.Join(runDir, EventsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// ListJobs scans the base directory for job run dirs and summarizes
// them, newest first. Jobs without a readable manifest report state
// "unknown" rather than being dropped.
func ListJobs(baseDir string, input ListJobsInput) ([]JobSummary, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []JobSummary{}, nil
		}
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var jobs []JobSummary
	for _, e := range entries {
		if !e.IsDir() || !jobIDRe.MatchString(e.Name()) {
			continue
		}
		runDir := filepath.Join(baseDir, e.Name())
		summary := JobSummary{JobID: e.Name(), State: StateUnknown, RunDir: runDir}
		if m, err := ReadManifest(runDir); err == nil {
			summary.State = m.State
			summary.Pages = len(m.Pages)
			summary.Documents = len(m.Documents)
			summary.CreatedAt = m.CreatedAt
		}
		if input.State != "" && summary.State != input.State {
			continue
		}
		jobs = append(jobs, summary)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt != jobs[j].CreatedAt {
			return jobs[i].CreatedAt > jobs[j].CreatedAt
		}
		return jobs[i].JobID < jobs[j].JobID
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// JobSummary is one row of a job listing.
type JobSummary struct {
	JobID     string `json:"job_id"`
	State     State  `json:"state"`
	Pages     int    `json:"pages"`
	Documents int    `json:"documents"`
	CreatedAt string `json:"created_at,omitempty"`
	RunDir    string `json:"run_dir"`
}

// TailFile returns up to maxLines trailing lines of a text file, or ""
// on any error. Used to attach subprocess output to failure events.
func TailFile(path string, maxLines int) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(b), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func mimeTypeForFile(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	switch ext {
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
