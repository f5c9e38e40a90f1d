package scan

import (
	"context"
	"strings"

	"github.com/jacksenechal/scan-mcp/internal/config"
	"github.com/jacksenechal/scan-mcp/internal/core/device"
	"github.com/jacksenechal/scan-mcp/internal/core/state"
	"github.com/jacksenechal/scan-mcp/internal/logger"
)

// Resolver fills in every capture-relevant field of a request, probing
// device capabilities as needed. It is side-effect-free apart from the
// probes it triggers; probe failures fall back to defaults.
type Resolver struct {
	log    *logger.Logger
	cfg    config.Config
	prober device.Prober
	state  *state.Service
}

func NewResolver(cfg config.Config, prober device.Prober, st *state.Service) *Resolver {
	return &Resolver{log: logger.New("Resolver"), cfg: cfg, prober: prober, state: st}
}

// Resolve returns a copy of req with device, source, resolution and
// color mode all concrete. Resolving an already-fully-specified request
// returns it unchanged.
func (r *Resolver) Resolve(ctx context.Context, req Request) Request {
	resolved := req

	var opts device.Options
	haveOpts := false

	if resolved.DeviceID != "" {
		o, err := r.prober.GetOptions(ctx, resolved.DeviceID)
		if err != nil {
			// Caller-supplied device is unusable; fall back to selection
			// rather than failing the whole request.
			r.log.LogWarnf("probe of %s failed, falling back to selection: %v", resolved.DeviceID, err)
			resolved.DeviceID = ""
		} else {
			opts, haveOpts = o, true
		}
	}

	if resolved.DeviceID == "" {
		desired := device.Profile{Source: resolved.Source, ResolutionDPI: resolved.ResolutionDPI}
		sel, err := device.Select(ctx, r.prober, desired, r.cfg, r.state.LastDeviceID())
		if err != nil {
			r.log.LogError("device selection failed", err)
		} else if sel != nil {
			resolved.DeviceID = sel.DeviceID
			r.log.Info().Str("device_id", sel.DeviceID).Int("score", sel.Score).
				Strs("rationale", sel.Rationale).Msg("selected device")
			if o, err := r.prober.GetOptions(ctx, sel.DeviceID); err == nil {
				opts, haveOpts = o, true
			}
		}
	}

	resolved.Source = resolveSource(resolved, opts, haveOpts)
	resolved.ResolutionDPI = resolveResolution(resolved.ResolutionDPI, opts, haveOpts)
	resolved.ColorMode = resolveColorMode(resolved.ColorMode, opts, haveOpts)
	if resolved.OutputFormat == "" {
		resolved.OutputFormat = "tiff"
	}
	return resolved
}

func resolveSource(req Request, opts device.Options, haveOpts bool) string {
	if req.Source != "" {
		return req.Source
	}
	if haveOpts {
		if req.Duplex && opts.HasSource(device.SourceADFDuplex) {
			return device.SourceADFDuplex
		}
		if opts.HasSource(device.SourceADFDuplex) {
			return device.SourceADFDuplex
		}
		if opts.HasSource(device.SourceADF) {
			return device.SourceADF
		}
		if len(opts.Sources) > 0 {
			return opts.Sources[0]
		}
	}
	return device.SourceFlatbed
}

func resolveResolution(dpi int, opts device.Options, haveOpts bool) int {
	if dpi > 0 {
		return dpi
	}
	if !haveOpts || len(opts.Resolutions) == 0 {
		return DefaultResolutionDPI
	}
	if opts.HasResolution(DefaultResolutionDPI) {
		return DefaultResolutionDPI
	}
	// Closest listed value at-or-below the default, else closest above.
	// Never an arbitrary unrelated value.
	below, above := 0, 0
	for _, r := range opts.Resolutions {
		if r <= DefaultResolutionDPI && r > below {
			below = r
		}
		if r > DefaultResolutionDPI && (above == 0 || r < above) {
			above = r
		}
	}
	if below > 0 {
		return below
	}
	return above
}

// Device-insensitive mode preference, cheapest first.
var colorModePreference = []string{"lineart", "gray", "halftone", "color"}

func resolveColorMode(mode string, opts device.Options, haveOpts bool) string {
	if mode != "" {
		// Normalize the caller's value against the device vocabulary;
		// keep the caller's casing only when nothing matches.
		for _, m := range opts.ColorModes {
			if strings.EqualFold(m, mode) {
				return m
			}
		}
		return mode
	}
	if haveOpts && len(opts.ColorModes) > 0 {
		for _, pref := range colorModePreference {
			for _, m := range opts.ColorModes {
				if strings.EqualFold(m, pref) {
					return m
				}
			}
		}
		return opts.ColorModes[0]
	}
	return "Lineart"
}
