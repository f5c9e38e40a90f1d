package preflight

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/jacksenechal/scan-mcp/internal/config"
)

// Tool is one external command the engine depends on.
type Tool struct {
	EnvVar      string
	Command     string
	Description string
}

// MissingToolsError lists external tools that could not be found.
type MissingToolsError struct {
	Missing []Tool
}

func (e *MissingToolsError) Error() string {
	var b strings.Builder
	b.WriteString("missing system tools required to talk to the scanner:\n")
	for _, t := range e.Missing {
		fmt.Fprintf(&b, "  - %s [%s=%s]\n", t.Description, t.EnvVar, t.Command)
	}
	b.WriteString("\nInstall SANE utilities and TIFF tools before continuing:\n")
	b.WriteString("  Ubuntu/Debian: sudo apt install sane-utils libtiff-tools imagemagick\n")
	b.WriteString("  Arch Linux:    sudo pacman -S sane libtiff imagemagick\n")
	b.WriteString("  Fedora:        sudo dnf install sane-backends-utils libtiff-tools ImageMagick\n")
	b.WriteString("\nIf the tools live elsewhere, set SCANIMAGE_BIN, SCANADF_BIN, TIFFCP_BIN or IM_CONVERT_BIN.")
	return b.String()
}

// Check verifies the configured external tools are reachable. Mock mode
// skips the check entirely; nothing is executed either way.
func Check(cfg config.Config) error {
	if cfg.ScanMock {
		return nil
	}
	return CheckWith(cfg, commandAvailable)
}

// CheckWith runs the check with an injectable lookup, for tests.
func CheckWith(cfg config.Config, available func(string) bool) error {
	tools := []Tool{
		{EnvVar: "SCANIMAGE_BIN", Command: cfg.ScanimageBin, Description: "SANE CLI (scanimage)"},
		{EnvVar: "SCANADF_BIN", Command: cfg.ScanadfBin, Description: "SANE ADF batch scanner (scanadf)"},
		{EnvVar: "TIFFCP_BIN", Command: cfg.TiffcpBin, Description: "TIFF page assembler (tiffcp)"},
		{EnvVar: "IM_CONVERT_BIN", Command: cfg.ConvertBin, Description: "ImageMagick convert"},
	}

	var missing []Tool
	for _, t := range tools {
		if strings.TrimSpace(t.Command) == "" || !available(t.Command) {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &MissingToolsError{Missing: missing}
	}
	return nil
}

func commandAvailable(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
