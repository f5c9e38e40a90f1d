package device

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jacksenechal/scan-mcp/internal/config"
)

// Profile is the desired capability shape a caller wants matched.
// Zero values mean "no preference".
type Profile struct {
	Source        string
	ResolutionDPI int
}

// Selection is the winning candidate with its score and the factors
// that produced it, for observability.
type Selection struct {
	DeviceID  string   `json:"device_id"`
	Score     int      `json:"score"`
	Rationale []string `json:"rationale"`
}

// Backend families that are scan-capable on paper but are really
// cameras; penalized even when not explicitly excluded.
var cameraBackends = []string{"v4l", "gphoto2"}

// Score rates a single candidate against the desired profile. Pure:
// no I/O. probeErr carries a failed capability probe, which applies a
// small penalty but does not disqualify the device. The vetoed return
// marks excluded backends which must never win regardless of score.
func Score(d Device, opts Options, probeErr error, desired Profile, cfg config.Config, lastUsedID string) (score int, rationale []string, vetoed bool) {
	backend := Backend(d.ID)
	if contains(cfg.ExcludeBackends, backend) {
		return 0, []string{"excluded backend:" + backend}, true
	}

	if probeErr != nil {
		score -= 5
		rationale = append(rationale, "options probe failed")
	} else {
		hasDuplex := opts.HasSource(SourceADFDuplex)
		hasADF := hasDuplex || opts.HasSource(SourceADF)

		if strings.Contains(desired.Source, "ADF") {
			switch {
			case hasDuplex:
				score += 120
				rationale = append(rationale, "supports ADF Duplex")
			case hasADF:
				score += 100
				rationale = append(rationale, "supports ADF")
			default:
				score -= 50
				rationale = append(rationale, "no ADF support")
			}
		} else {
			// No explicit preference; reward a feeder with smaller weight.
			if hasDuplex {
				score += 40
				rationale = append(rationale, "has feeder (duplex)")
			} else if hasADF {
				score += 30
				rationale = append(rationale, "has feeder")
			}
		}

		if desired.ResolutionDPI > 0 && opts.HasResolution(desired.ResolutionDPI) {
			score += 10
			rationale = append(rationale, fmt.Sprintf("supports %ddpi", desired.ResolutionDPI))
		}

		if hasDuplex {
			score += 10
			rationale = append(rationale, "duplex capable")
		}

		if contains(cfg.PreferBackends, backend) {
			score += 5
			rationale = append(rationale, "preferred backend:"+backend)
		}
	}

	if contains(cameraBackends, backend) {
		score -= 100
		rationale = append(rationale, "camera backend penalty")
	}

	if lastUsedID != "" && d.ID == lastUsedID {
		score += 1
		rationale = append(rationale, "last used")
	}

	return score, rationale, false
}

// Select probes every known device and returns the highest-scoring
// usable candidate, or nil if the device list is empty or every
// candidate was vetoed. Ties break on device id for determinism.
func Select(ctx context.Context, p Prober, desired Profile, cfg config.Config, lastUsedID string) (*Selection, error) {
	devices, err := p.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}

	var results []Selection
	for _, d := range devices {
		opts, probeErr := p.GetOptions(ctx, d.ID)
		score, rationale, vetoed := Score(d, opts, probeErr, desired, cfg, lastUsedID)
		if vetoed {
			continue
		}
		results = append(results, Selection{DeviceID: d.ID, Score: score, Rationale: rationale})
	}
	if len(results) == 0 {
		return nil, nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DeviceID < results[j].DeviceID
	})
	top := results[0]
	return &top, nil
}
