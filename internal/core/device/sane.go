package device

import (
	"context"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/logger"
)

// Prober answers the two capability questions the engine asks about
// physical hardware. Implementations must tolerate tool failure and
// surface it as an empty result or an error, never a crash.
type Prober interface {
	ListDevices(ctx context.Context) ([]Device, error)
	GetOptions(ctx context.Context, deviceID string) (Options, error)
}

// SaneProber shells out to the SANE CLI (scanimage) and parses its
// human-readable output. With ScanMock enabled it returns a fixed
// feeder-capable device instead of touching hardware.
type SaneProber struct {
	log *logger.Logger
	cfg config.Config
}

func NewSaneProber(cfg config.Config) *SaneProber {
	return &SaneProber{log: logger.New("SaneProber"), cfg: cfg}
}

func (p *SaneProber) ListDevices(ctx context.Context) ([]Device, error) {
	if p.cfg.ScanMock {
		return []Device{{ID: "epjitsu:libusb:001:004", Vendor: "FUJITSU", Model: "ScanSnap S1500"}}, nil
	}

	out, err := exec.CommandContext(ctx, p.cfg.ScanimageBin, "-L").Output()
	if err != nil {
		p.log.LogError("failed to list devices", err)
		return nil, nil
	}
	devices := ParseDeviceList(string(out))

	// Excluded backends never reach callers, not even for display.
	filtered := devices[:0]
	for _, d := range devices {
		if !contains(p.cfg.ExcludeBackends, Backend(d.ID)) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (p *SaneProber) GetOptions(ctx context.Context, deviceID string) (Options, error) {
	if p.cfg.ScanMock {
		return Options{
			Sources:     []string{SourceFlatbed, SourceADF, SourceADFDuplex},
			ColorModes:  []string{"Color", "Gray", "Lineart"},
			Resolutions: []int{200, 300, 600},
			ADF:         true,
			Duplex:      true,
		}, nil
	}

	out, err := exec.CommandContext(ctx, p.cfg.ScanimageBin, "-A", "-d", deviceID).Output()
	if err != nil {
		p.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to get device options")
		return Options{}, err
	}
	return ParseOptions(string(out)), nil
}

var (
	// device `epjitsu:libusb:001:004' is a FUJITSU ScanSnap S1500 scanner
	deviceLineRe    = regexp.MustCompile("^device `(.+?)' is a (.+)$")
	scannerSuffixRe = regexp.MustCompile(`(?i)\s+scanner.*$`)
	optionFlagRe    = regexp.MustCompile(`--[\w-]+\s*`)
	dpiUnitRe       = regexp.MustCompile(`(?i)dpi`)
	bareIntRe       = regexp.MustCompile(`\b(\d{2,4})\b`)
)

// ParseDeviceList parses `scanimage -L` output into device records.
// Vendor/model extraction is deliberately loose; the id is what matters.
func ParseDeviceList(text string) []Device {
	var result []Device
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		m := deviceLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := scannerSuffixRe.ReplaceAllString(m[2], "")
		parts := strings.Fields(desc)
		d := Device{ID: m[1]}
		if len(parts) > 0 {
			d.Vendor = parts[0]
			d.Model = strings.Join(parts[1:], " ")
		}
		result = append(result, d)
	}
	return result
}

// ParseOptions parses `scanimage -A` output, extracting the option
// enums the engine cares about (--source, --mode, --resolution).
func ParseOptions(text string) Options {
	var opts Options
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "--source") {
			values := extractEnumValues(line)
			opts.Sources = values
			for _, v := range values {
				if strings.Contains(strings.ToUpper(v), "ADF") {
					opts.ADF = true
				}
				if strings.Contains(strings.ToLower(v), "duplex") {
					opts.Duplex = true
				}
			}
		}
		if strings.Contains(line, "--mode") {
			opts.ColorModes = extractEnumValues(line)
		}
		if strings.Contains(line, "--resolution") {
			opts.Resolutions = extractResolutions(line)
		}
	}
	return opts
}

// optionBody strips the leading "--name" flag and the trailing "[default]"
// marker, leaving just the advertised value list.
func optionBody(line string) string {
	if loc := optionFlagRe.FindStringIndex(line); loc != nil {
		line = line[loc[1]:]
	}
	if i := strings.Index(line, "["); i >= 0 {
		line = line[:i]
	}
	return line
}

func extractEnumValues(line string) []string {
	var out []string
	for _, tok := range strings.Split(optionBody(line), "|") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	if len(out) < 2 {
		// Not an enum line (single value or free-form range).
		return nil
	}
	return out
}

func extractResolutions(line string) []int {
	body := dpiUnitRe.ReplaceAllString(optionBody(line), " ")
	seen := map[int]bool{}
	var out []int
	for _, m := range bareIntRe.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
