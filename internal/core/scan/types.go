package scan

import "errors"

// State is the job lifecycle state. Running is initial; completed,
// cancelled and error are terminal. Unknown is a read-side synthetic
// state for jobs whose manifest is not (or no longer) on disk.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateError     State = "error"
	StateUnknown   State = "unknown"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

// PageSize names with a millimeter mapping in plan.go.
type PageSize string

const (
	PageSizeLetter PageSize = "Letter"
	PageSizeA4     PageSize = "A4"
	PageSizeLegal  PageSize = "Legal"
	PageSizeCustom PageSize = "Custom"
)

// SizeMM is an explicit physical page size.
type SizeMM struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Break policy kinds. Only page_count changes segmentation today;
// blank_page, timer and barcode degrade to a single group and are
// flagged with a doc_break_unsupported event.
const (
	BreakNone      = "none"
	BreakPageCount = "page_count"
	BreakBlankPage = "blank_page"
	BreakTimer     = "timer"
	BreakBarcode   = "barcode"
)

type BreakPolicy struct {
	Type           string   `json:"type,omitempty"`
	BlankThreshold float64  `json:"blank_threshold,omitempty"`
	PageCount      int      `json:"page_count,omitempty"`
	TimerMS        int      `json:"timer_ms,omitempty"`
	BarcodeValues  []string `json:"barcode_values,omitempty"`
}

// Unsupported reports whether the policy names a kind that is accepted
// but not yet implemented.
func (p *BreakPolicy) Unsupported() bool {
	if p == nil {
		return false
	}
	switch p.Type {
	case BreakBlankPage, BreakTimer, BreakBarcode:
		return true
	}
	return false
}

// Request is a scan request. Every field is optional on input; the
// resolver fills in capture-relevant fields before a job runs.
type Request struct {
	DeviceID       string       `json:"device_id,omitempty"`
	ResolutionDPI  int          `json:"resolution_dpi,omitempty"`
	ColorMode      string       `json:"color_mode,omitempty"`
	Source         string       `json:"source,omitempty"`
	Duplex         bool         `json:"duplex,omitempty"`
	PageSize       PageSize     `json:"page_size,omitempty"`
	CustomSizeMM   *SizeMM      `json:"custom_size_mm,omitempty"`
	DocBreakPolicy *BreakPolicy `json:"doc_break_policy,omitempty"`
	OutputFormat   string       `json:"output_format,omitempty"`
	TmpDir         string       `json:"tmp_dir,omitempty"`
}

// Page is one captured page image.
type Page struct {
	Index    int    `json:"index"`
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	MimeType string `json:"mime_type,omitempty"`
}

// Document is one assembled multi-page artifact. Pages lists the
// 1-based page indices it contains, in ascending order.
type Document struct {
	Index     int    `json:"index"`
	Pages     []int  `json:"pages"`
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	MimeType  string `json:"mime_type,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
}

// Event is one append-only record in a job's events.jsonl.
type Event struct {
	TS   string                 `json:"ts"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

const (
	EventJobStarted           = "job_started"
	EventScannerExec          = "scanner_exec"
	EventScannerPrimaryFailed = "scanner_primary_failed"
	EventScannerFailed        = "scanner_failed"
	EventPageCaptured         = "page_captured"
	EventJobCompleted         = "job_completed"
	EventJobError             = "job_error"
	EventJobCancelled         = "job_cancelled"
	EventDocBreakUnsupported  = "doc_break_unsupported"
)

// Manifest is the mutable, atomically-replaced snapshot of a job.
type Manifest struct {
	JobID     string     `json:"job_id"`
	RunDir    string     `json:"run_dir"`
	DeviceID  string     `json:"device_id,omitempty"`
	CreatedAt string     `json:"created_at"`
	Params    Request    `json:"params"`
	Pages     []Page     `json:"pages"`
	Documents []Document `json:"documents"`
	State     State      `json:"state"`
	Error     string     `json:"error,omitempty"`
}

// StartResult is what a start-scan call returns.
type StartResult struct {
	JobID  string `json:"job_id"`
	RunDir string `json:"run_dir"`
	State  State  `json:"state"`
}

// JobStatus is the read-side view of a job.
type JobStatus struct {
	JobID     string `json:"job_id"`
	State     State  `json:"state"`
	Pages     int    `json:"pages"`
	Documents int    `json:"documents"`
	RunDir    string `json:"run_dir"`
	Error     string `json:"error,omitempty"`
}

// ListJobsInput filters and limits a job listing.
type ListJobsInput struct {
	Limit int   `json:"limit,omitempty"`
	State State `json:"state,omitempty"`
}

// DefaultResolutionDPI is the system default used whenever neither the
// caller nor the device pins a resolution.
const DefaultResolutionDPI = 300

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidJobID      = errors.New("invalid job_id")
	ErrAlreadyTerminal   = errors.New("job already cancelled")
	ErrDeviceUnavailable = errors.New("no usable device")
)
