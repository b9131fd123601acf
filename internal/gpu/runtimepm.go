package gpu

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
)

const (
	driverDocDir      = "usr/share/doc"
	driverDocPrefix   = "nvidia-driver-"
	supportedGPUsFile = "supported-gpus.json"
	runtimePMFeature  = "runtimepm"
)

type supportedGPUs struct {
	Chips []supportedChip `json:"chips"`
}

type supportedChip struct {
	DevID    string   `json:"devid"`
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

// RuntimePM reports whether the installed NVIDIA driver declares runtime power
// management support for dev. The answer comes from the driver's
// supported-gpus.json; exactly one installed driver is expected.
func RuntimePM(s hcs.Surface, dev Device) (bool, error) {
	entries, err := s.List(hcs.Host(driverDocDir))
	if err != nil {
		return false, fmt.Errorf("list driver docs: %w", err)
	}

	var found []hcs.Knob
	for _, entry := range entries {
		if !strings.HasPrefix(entry, driverDocPrefix) {
			continue
		}
		knob := hcs.Host(driverDocDir, entry, supportedGPUsFile)
		if _, err := s.Read(knob); err == nil {
			found = append(found, knob)
		}
	}
	if len(found) != 1 {
		return false, fmt.Errorf("expected one nvidia driver manifest, found %d: %w", len(found), errs.ErrUnsupported)
	}

	raw, err := s.Read(found[0])
	if err != nil {
		return false, err
	}
	var manifest supportedGPUs
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return false, fmt.Errorf("decode %s: %w", found[0], err)
	}

	want := normalizePCIID(dev.DeviceID())
	for _, chip := range manifest.Chips {
		if normalizePCIID(chip.DevID) != want {
			continue
		}
		// Several entries may share a device id; any one declaring the feature wins.
		if slices.Contains(chip.Features, runtimePMFeature) {
			return true, nil
		}
	}
	return false, nil
}
