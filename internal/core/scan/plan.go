package scan

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jacksenechal/scan-mcp/internal/config"
)

// Command is one planned external invocation.
type Command struct {
	Bin  string   `json:"bin"`
	Args []string `json:"args"`
}

// Physical page dimensions in millimeters.
var pageSizesMM = map[PageSize]SizeMM{
	PageSizeLetter: {Width: 215.9, Height: 279.4},
	PageSizeA4:     {Width: 210, Height: 297},
	PageSizeLegal:  {Width: 215.9, Height: 355.6},
}

// BatchPattern returns the sequential zero-padded page output pattern
// for a run directory. Filename ordering matches capture order.
func BatchPattern(runDir, format string) string {
	return filepath.Join(runDir, "page_%04d."+formatExt(format))
}

// PlanCommands turns a resolved request into the ordered candidate list
// to attempt. Feeder sources prefer scanadf with a scanimage fallback;
// flatbed uses scanimage alone. Pure data transformation, no I/O.
func PlanCommands(req Request, runDir string, cfg config.Config) []Command {
	args := buildScanArgs(req, runDir)

	if strings.Contains(req.Source, "ADF") {
		return []Command{
			{Bin: cfg.ScanadfBin, Args: args},
			{Bin: cfg.ScanimageBin, Args: args},
		}
	}
	return []Command{{Bin: cfg.ScanimageBin, Args: args}}
}

func buildScanArgs(req Request, runDir string) []string {
	var args []string
	if req.DeviceID != "" {
		args = append(args, "-d", req.DeviceID)
	}
	if req.ResolutionDPI > 0 {
		args = append(args, "--resolution", strconv.Itoa(req.ResolutionDPI))
	}
	if req.ColorMode != "" {
		args = append(args, "--mode", req.ColorMode)
	}
	if req.Source != "" {
		args = append(args, "--source", req.Source)
	}
	if size, ok := pageDimensions(req); ok {
		args = append(args, "-x", mm(size.Width), "-y", mm(size.Height))
	}
	args = append(args, "--batch="+BatchPattern(runDir, req.OutputFormat))
	args = append(args, "--format="+formatExt(req.OutputFormat))
	return args
}

func pageDimensions(req Request) (SizeMM, bool) {
	if req.PageSize == PageSizeCustom {
		if req.CustomSizeMM != nil && req.CustomSizeMM.Width > 0 && req.CustomSizeMM.Height > 0 {
			return *req.CustomSizeMM, true
		}
		return SizeMM{}, false
	}
	size, ok := pageSizesMM[req.PageSize]
	return size, ok
}

func mm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "mm"
}

func formatExt(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	if f == "" {
		return "tiff"
	}
	return f
}
