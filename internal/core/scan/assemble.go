package scan

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/logger"
)

// Assembler merges page image files into multi-page documents via an
// external tool: tiffcp for TIFF output, ImageMagick convert for other
// formats. When the tool is missing or fails, the first page is copied
// verbatim as the document — a lossy but non-fatal degradation callers
// can detect by comparing page counts against declared segments.
type Assembler struct {
	log *logger.Logger
	cfg config.Config
}

func NewAssembler(cfg config.Config) *Assembler {
	return &Assembler{log: logger.New("Assembler"), cfg: cfg}
}

// Assemble produces one merged artifact at destPath. Empty input is a
// no-op. The degraded return reports whether the fallback copy was used.
func (a *Assembler) Assemble(ctx context.Context, pagePaths []string, destPath string) (degraded bool, err error) {
	if len(pagePaths) == 0 {
		return false, nil
	}

	bin := a.cfg.TiffcpBin
	ext := strings.ToLower(filepath.Ext(destPath))
	if ext != ".tif" && ext != ".tiff" {
		bin = a.cfg.ConvertBin
	}

	args := append(append([]string{}, pagePaths...), destPath)
	if mergeErr := exec.CommandContext(ctx, bin, args...).Run(); mergeErr != nil {
		a.log.LogWarnf("%s failed (%v), copying first page as document", bin, mergeErr)
		if err := copyFile(pagePaths[0], destPath); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
