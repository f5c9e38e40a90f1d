package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/core/device"
	"github.com/jacksenechal/scan-mcp/internal/core/state"
	"github.com/jacksenechal/scan-mcp/internal/core/upload"
	"github.com/jacksenechal/scan-mcp/internal/logger"
	tasks "github.com/jacksenechal/scan-mcp/internal/platform/tasks"
)

const TaskTypeScan = "scan:job"

const logTailLines = 80

// Payload is the queued form of a created job.
type Payload struct {
	JobID  string `json:"job_id"`
	RunDir string `json:"run_dir"`
}

// Service is the job supervisor. It owns the lifecycle of every scan
// job: identity and run-dir allocation, command execution with
// fallback, page collection, segmentation, assembly and the manifest/
// event records that make all of it durable. Each Service instance has
// its own live-process registry, so instances can coexist in tests.
type Service struct {
	log       *logger.Logger
	cfg       config.Config
	resolver  *Resolver
	assembler *Assembler
	state     *state.Service
	uploader  *upload.Service
	registry  *processRegistry
}

func NewService(cfg config.Config, prober device.Prober, st *state.Service, uploader *upload.Service) *Service {
	return &Service{
		log:       logger.New("ScanService"),
		cfg:       cfg,
		resolver:  NewResolver(cfg, prober, st),
		assembler: NewAssembler(cfg),
		state:     st,
		uploader:  uploader,
		registry:  newProcessRegistry(),
	}
}

// Create resolves the request, allocates the job identity and run
// directory, and writes the initial manifest and job_started event.
// The job is in state running afterwards but no capture has happened.
func (s *Service) Create(ctx context.Context, req Request) (*Manifest, error) {
	resolved := s.resolver.Resolve(ctx, req)

	jobID := NewJobID()
	baseDir := s.cfg.InboxDir
	if resolved.TmpDir != "" {
		baseDir = resolved.TmpDir
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	runDir := filepath.Join(absBase, jobID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	m := &Manifest{
		JobID:     jobID,
		RunDir:    runDir,
		DeviceID:  resolved.DeviceID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Params:    resolved,
		Pages:     []Page{},
		Documents: []Document{},
		State:     StateRunning,
	}
	if err := WriteManifest(m); err != nil {
		return nil, err
	}
	if err := AppendEvent(runDir, NewEvent(EventJobStarted, map[string]interface{}{"input": req})); err != nil {
		return nil, err
	}

	if resolved.DocBreakPolicy.Unsupported() {
		s.log.LogWarnf("doc break policy %q not implemented, capturing as one document", resolved.DocBreakPolicy.Type)
		_ = AppendEvent(runDir, NewEvent(EventDocBreakUnsupported, map[string]interface{}{
			"type": resolved.DocBreakPolicy.Type,
		}))
	}

	s.log.Info().Str("job_id", jobID).Str("device_id", resolved.DeviceID).Msg("job created")
	return m, nil
}

// Run drives a created job to a terminal state. A capture failure is a
// terminal job state, not a returned error; errors are reserved for
// infrastructure problems (unreadable manifest, broken filesystem).
func (s *Service) Run(ctx context.Context, runDir string) error {
	m, err := ReadManifest(runDir)
	if err != nil {
		return err
	}
	if m.State.Terminal() {
		// Cancelled (or otherwise finished) before execution began.
		return nil
	}

	var captured bool
	if s.cfg.ScanMock {
		captured = s.mockCapture(m)
	} else {
		captured = s.execute(ctx, m)
	}

	// An out-of-band cancel during capture is terminal; nothing more is
	// recorded after the job_cancelled event.
	if jobCancelled(m.RunDir) {
		return nil
	}

	// Whatever pages exist are collected and recorded even after a
	// failed capture, for post-mortem inspection.
	if err := s.collectPages(m); err != nil {
		return s.finishError(m, fmt.Sprintf("collect pages: %v", err))
	}

	if !captured {
		return s.finishError(m, "all scanner commands failed")
	}

	if err := s.assembleDocuments(ctx, m); err != nil {
		return s.finishError(m, fmt.Sprintf("assemble documents: %v", err))
	}

	if cancelled, err := s.finish(m, StateCompleted, EventJobCompleted, nil); err != nil {
		return err
	} else if !cancelled && m.DeviceID != "" {
		s.state.SetLastDeviceID(m.DeviceID)
	}
	return nil
}

// Start creates and runs a job synchronously, returning its terminal
// state. This is the direct-execution path used by tests and callers
// that want to block until capture finishes.
func (s *Service) Start(ctx context.Context, req Request) (StartResult, error) {
	m, err := s.Create(ctx, req)
	if err != nil {
		return StartResult{}, err
	}
	if err := s.Run(ctx, m.RunDir); err != nil {
		return StartResult{}, err
	}
	final, err := ReadManifest(m.RunDir)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{JobID: final.JobID, RunDir: final.RunDir, State: final.State}, nil
}

// StartAsync creates the job and runs it on a background goroutine,
// returning immediately with state running.
func (s *Service) StartAsync(ctx context.Context, req Request) (StartResult, error) {
	m, err := s.Create(ctx, req)
	if err != nil {
		return StartResult{}, err
	}
	go func() {
		if err := s.Run(context.Background(), m.RunDir); err != nil {
			s.log.LogError("background job run failed", err)
		}
	}()
	return StartResult{JobID: m.JobID, RunDir: m.RunDir, State: m.State}, nil
}

// Enqueue creates the job and hands execution to the task queue.
func (s *Service) Enqueue(ctx context.Context, t *tasks.Client, req Request) (StartResult, error) {
	m, err := s.Create(ctx, req)
	if err != nil {
		return StartResult{}, err
	}
	payload, _ := json.Marshal(Payload{JobID: m.JobID, RunDir: m.RunDir})
	task := asynq.NewTask(TaskTypeScan, payload)
	if err := t.Enqueue(task, "default", s.cfg.TaskMaxRetries); err != nil {
		return StartResult{}, err
	}
	return StartResult{JobID: m.JobID, RunDir: m.RunDir, State: m.State}, nil
}

// HandleTask is the asynq worker entrypoint.
func (s *Service) HandleTask(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return err
	}
	return s.Run(ctx, p.RunDir)
}

// GetStatus reports a job's state. A job with no manifest on disk is
// state unknown, not an error; only identifier validation fails.
func (s *Service) GetStatus(ctx context.Context, jobID string) (JobStatus, error) {
	runDir, err := ResolveJobPath(jobID, s.cfg.InboxDir)
	if err != nil {
		return JobStatus{}, err
	}
	m, err := ReadManifest(runDir)
	if errors.Is(err, ErrNotFound) {
		return JobStatus{JobID: jobID, State: StateUnknown, RunDir: runDir}, nil
	}
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		JobID:     m.JobID,
		State:     m.State,
		Pages:     len(m.Pages),
		Documents: len(m.Documents),
		RunDir:    runDir,
		Error:     m.Error,
	}, nil
}

// Cancel terminates a job's live subprocess (if any) and flips the
// manifest to cancelled. A job with no manifest is ErrNotFound; an
// already-cancelled job is ErrAlreadyTerminal, which keeps the
// job_cancelled event unique per job.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	runDir, err := ResolveJobPath(jobID, s.cfg.InboxDir)
	if err != nil {
		return err
	}

	m, err := ReadManifest(runDir)
	if err != nil {
		return err
	}
	if m.State == StateCancelled {
		return ErrAlreadyTerminal
	}

	// Flip the manifest before killing so the supervisor sees the
	// terminal state as soon as the killed command returns, and never
	// launches a fallback candidate.
	m.State = StateCancelled
	if err := WriteManifest(m); err != nil {
		return err
	}
	killed := s.registry.kill(jobID)
	_ = AppendEvent(runDir, NewEvent(EventJobCancelled, map[string]interface{}{"killed": killed}))
	s.log.Info().Str("job_id", jobID).Bool("killed", killed).Msg("job cancelled")
	return nil
}

// List summarizes past and present jobs in the inbox directory.
func (s *Service) List(ctx context.Context, input ListJobsInput) ([]JobSummary, error) {
	return ListJobs(s.cfg.InboxDir, input)
}

// RunDirFor maps a job id to its run directory under the inbox dir,
// validating the id. Used by the artifact-serving transport handlers.
func (s *Service) RunDirFor(jobID string) (string, error) {
	return ResolveJobPath(jobID, s.cfg.InboxDir)
}

// execute tries each planned command in order, returning true as soon
// as one succeeds. Each failure is recorded as an event with the exit
// detail and a stderr tail before the next candidate is tried.
func (s *Service) execute(ctx context.Context, m *Manifest) bool {
	cmds := PlanCommands(m.Params, m.RunDir, s.cfg)
	for i, c := range cmds {
		_ = AppendEvent(m.RunDir, NewEvent(EventScannerExec, map[string]interface{}{
			"bin":  c.Bin,
			"args": c.Args,
		}))
		err := s.runCommand(ctx, m.JobID, m.RunDir, c)
		if err == nil {
			return true
		}

		// A command killed by Cancel is not a capture failure; stop the
		// candidate loop instead of launching the fallback.
		if jobCancelled(m.RunDir) {
			return false
		}

		evType := EventScannerFailed
		if i < len(cmds)-1 {
			evType = EventScannerPrimaryFailed
		}
		data := map[string]interface{}{
			"bin":   c.Bin,
			"error": err.Error(),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			data["exit_code"] = exitErr.ExitCode()
		}
		if tail := TailFile(filepath.Join(m.RunDir, StderrLogName), logTailLines); tail != "" {
			data["stderr_tail"] = tail
		}
		_ = AppendEvent(m.RunDir, NewEvent(evType, data))
		s.log.Warn().Str("job_id", m.JobID).Str("bin", c.Bin).Err(err).Msg("scanner command failed")
	}
	return false
}

// runCommand executes one candidate with its stdout/stderr captured to
// per-job log files and the process registered for cancellation. The
// registry entry is removed on every exit path.
func (s *Service) runCommand(ctx context.Context, jobID, runDir string, c Command) error {
	stdout, err := os.OpenFile(filepath.Join(runDir, StdoutLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(filepath.Join(runDir, StderrLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, c.Bin, c.Args...)
	cmd.Dir = runDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	s.registry.add(jobID, cmd.Process)
	defer s.registry.remove(jobID)
	return cmd.Wait()
}

// mockCapture synthesizes page files instead of driving hardware.
func (s *Service) mockCapture(m *Manifest) bool {
	count := s.cfg.MockPageCount
	if count <= 0 {
		count = 2
	}
	ext := formatExt(m.Params.OutputFormat)
	for i := 1; i <= count; i++ {
		path := filepath.Join(m.RunDir, fmt.Sprintf("page_%04d.%s", i, ext))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("MOCK_TIFF_PAGE_%d", i)), 0o644); err != nil {
			s.log.LogError("mock page write failed", err)
			return false
		}
	}
	return true
}

// collectPages gathers produced page files sorted by filename, which
// matches capture order by construction of the batch pattern.
func (s *Service) collectPages(m *Manifest) error {
	matches, err := filepath.Glob(filepath.Join(m.RunDir, "page_*"))
	if err != nil {
		return err
	}
	m.Pages = m.Pages[:0]
	for i, path := range matches {
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		page := Page{Index: i + 1, Path: path, SHA256: sum, MimeType: mimeTypeForFile(path)}
		m.Pages = append(m.Pages, page)
		_ = AppendEvent(m.RunDir, NewEvent(EventPageCaptured, map[string]interface{}{
			"index": page.Index,
			"path":  page.Path,
		}))
	}
	return WriteManifest(m)
}

// assembleDocuments groups pages per the break policy and merges each
// group into a document artifact.
func (s *Service) assembleDocuments(ctx context.Context, m *Manifest) error {
	indices := make([]int, len(m.Pages))
	for i := range m.Pages {
		indices[i] = m.Pages[i].Index
	}
	groups := SegmentPages(indices, m.Params.DocBreakPolicy)
	ext := formatExt(m.Params.OutputFormat)

	m.Documents = m.Documents[:0]
	for gi, group := range groups {
		docPath := filepath.Join(m.RunDir, fmt.Sprintf("doc_%04d.%s", gi+1, ext))
		pagePaths := make([]string, len(group))
		for i, idx := range group {
			pagePaths[i] = m.Pages[idx-1].Path
		}
		if _, err := s.assembler.Assemble(ctx, pagePaths, docPath); err != nil {
			return err
		}
		sum, err := hashFile(docPath)
		if err != nil {
			return err
		}
		doc := Document{
			Index:    gi + 1,
			Pages:    group,
			Path:     docPath,
			SHA256:   sum,
			MimeType: mimeTypeForFile(docPath),
		}
		if s.uploader != nil {
			if url, err := s.uploader.UploadDocument(m.JobID, docPath); err != nil {
				s.log.LogWarnf("document upload failed: %v", err)
			} else {
				doc.PublicURL = url
			}
		}
		m.Documents = append(m.Documents, doc)
	}
	return nil
}

// jobCancelled reports whether an out-of-band cancel already flipped
// the on-disk manifest to cancelled.
func jobCancelled(runDir string) bool {
	m, err := ReadManifest(runDir)
	return err == nil && m.State == StateCancelled
}

// finish drives the job to a terminal state unless an out-of-band
// cancel already made it terminal, in which case the on-disk cancelled
// state wins and no second terminal event is written.
func (s *Service) finish(m *Manifest, st State, eventType string, data map[string]interface{}) (cancelled bool, err error) {
	if jobCancelled(m.RunDir) {
		m.State = StateCancelled
		return true, WriteManifest(m)
	}
	m.State = st
	if err := WriteManifest(m); err != nil {
		return false, err
	}
	_ = AppendEvent(m.RunDir, NewEvent(eventType, data))
	return false, nil
}

func (s *Service) finishError(m *Manifest, reason string) error {
	m.Error = reason
	cancelled, err := s.finish(m, StateError, EventJobError, map[string]interface{}{"reason": reason})
	if err != nil {
		return err
	}
	if !cancelled {
		s.log.Error().Str("job_id", m.JobID).Str("reason", reason).Msg("job failed")
	}
	return nil
}
