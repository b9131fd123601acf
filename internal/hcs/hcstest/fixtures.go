package hcstest

import "github.com/skobkin/gfxpower/internal/hcs"

// PCI seeds a PCI device directory with the attributes discovery reads.
func (r *Recorder) PCI(slot, class, vendor, device string) *Recorder {
	dev := hcs.Sys("bus", "pci", "devices", slot)
	r.Set(dev.Join("class"), class)
	r.Set(dev.Join("vendor"), vendor)
	r.Set(dev.Join("device"), device)
	r.Set(dev.Join("power", "control"), "auto")
	r.Set(dev.Join("remove"), "")
	r.Set(dev.Join("driver", "unbind"), "")
	return r
}

// HybridLaptop seeds an Intel iGPU plus an NVIDIA dGPU with its HDMI audio
// function, a laptop chassis and a PCI bus that can be rescanned.
func HybridLaptop() *Recorder {
	r := New()
	r.Set(hcs.Sys("class", "dmi", "id", "chassis_type"), "10")
	r.Set(hcs.Sys("bus", "pci", "rescan"), "")
	r.PCI("0000:00:02.0", "0x030000", "0x8086", "0x9bc4")
	r.PCI("0000:01:00.0", "0x030000", "0x10de", "0x1f95")
	r.PCI("0000:01:00.1", "0x040300", "0x10de", "0x10fa")
	r.Set(hcs.Sys("bus", "pci", "devices", "0000:01:00.0", "drm", "card1", "dev"), "226:1")
	r.Set(hcs.Sys("bus", "pci", "devices", "0000:01:00.0", "drm", "renderD129", "dev"), "226:129")
	return r
}

// RuntimePMManifest seeds an NVIDIA driver manifest declaring runtime power
// management for the given device ids.
func (r *Recorder) RuntimePMManifest(devIDs ...string) *Recorder {
	chips := ""
	for i, id := range devIDs {
		if i > 0 {
			chips += ","
		}
		chips += `{"devid":"` + id + `","name":"test","features":["runtimepm"]}`
	}
	r.Set(hcs.Host("usr", "share", "doc", "nvidia-driver-550", "supported-gpus.json"), `{"chips":[`+chips+`]}`)
	return r
}
