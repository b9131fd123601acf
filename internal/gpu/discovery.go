// Package gpu enumerates PCI display controllers and derives the host's
// graphics switching capability.
package gpu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
)

const (
	displayClass  = 0x03
	chassisDesk   = "3"
	pciDevicesDir = "bus/pci/devices"
)

// Vendor classifies a display controller.
type Vendor string

const (
	VendorIntel  Vendor = "intel"
	VendorAMD    Vendor = "amd"
	VendorNvidia Vendor = "nvidia"
	VendorOther  Vendor = "other"
)

func vendorFromID(id string) Vendor {
	switch normalizePCIID(id) {
	case "8086":
		return VendorIntel
	case "1002":
		return VendorAMD
	case "10de":
		return VendorNvidia
	default:
		return VendorOther
	}
}

// Device describes one PCI display controller.
type Device struct {
	Slot      string   `json:"slot"`
	Vendor    Vendor   `json:"vendor"`
	PCIID     string   `json:"pci_id"`
	Name      string   `json:"name"`
	Driver    string   `json:"driver,omitempty"`
	Functions []string `json:"functions"`
	Nodes     []string `json:"nodes,omitempty"`
}

// DeviceID returns the PCI device id without vendor.
func (d Device) DeviceID() string {
	_, device := splitPCIIdentifier(d.PCIID)
	return device
}

// Inventory is the result of a hardware enumeration.
type Inventory struct {
	Devices []Device `json:"devices"`
	Desktop bool     `json:"desktop"`
}

// ByVendor returns the devices of one vendor in slot order.
func (inv Inventory) ByVendor(v Vendor) []Device {
	var out []Device
	for _, dev := range inv.Devices {
		if dev.Vendor == v {
			out = append(out, dev)
		}
	}
	return out
}

// Discrete returns the switchable discrete GPUs.
func (inv Inventory) Discrete() []Device {
	return inv.ByVendor(VendorNvidia)
}

// Switchable reports whether graphics mode switching makes sense on this host:
// not a desktop, at least one discrete GPU and at least one integrated GPU.
func (inv Inventory) Switchable() bool {
	if inv.Desktop || len(inv.Discrete()) == 0 {
		return false
	}
	return len(inv.ByVendor(VendorIntel)) > 0 || len(inv.ByVendor(VendorAMD)) > 0
}

// Discover enumerates PCI display controllers through the control surface.
func Discover(s hcs.Surface, logger *slog.Logger) (Inventory, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var inv Inventory
	if chassis, err := s.Read(hcs.Sys("class", "dmi", "id", "chassis_type")); err == nil {
		inv.Desktop = chassis == chassisDesk
	}

	slots, err := s.List(hcs.Sys(pciDevicesDir))
	if err != nil {
		if errors.Is(err, errs.ErrUnsupported) {
			logger.Warn("pci device directory missing", "path", hcs.Sys(pciDevicesDir).String())
			return inv, nil
		}
		return inv, fmt.Errorf("list pci devices: %w", err)
	}

	for _, slot := range slots {
		dev := hcs.Sys(pciDevicesDir, slot)
		class, err := readHex(s, dev.Join("class"))
		if err != nil {
			logger.Debug("skipping pci device", "slot", slot, "err", err)
			continue
		}
		if (class>>16)&0xff != displayClass {
			continue
		}

		info, err := loadDevice(s, slot, slots)
		if err != nil {
			logger.Warn("failed to load display controller", "slot", slot, "err", err)
			continue
		}
		logger.Info("display controller found", "slot", slot, "vendor", info.Vendor, "name", info.Name)
		inv.Devices = append(inv.Devices, info)
	}

	return inv, nil
}

func loadDevice(s hcs.Surface, slot string, allSlots []string) (Device, error) {
	dev := hcs.Sys(pciDevicesDir, slot)

	vendor, err := s.Read(dev.Join("vendor"))
	if err != nil {
		return Device{}, fmt.Errorf("read vendor: %w", err)
	}
	device, err := s.Read(dev.Join("device"))
	if err != nil {
		return Device{}, fmt.Errorf("read device: %w", err)
	}
	subVendor, _ := s.Read(dev.Join("subsystem_vendor"))
	subDevice, _ := s.Read(dev.Join("subsystem_device"))

	info := Device{
		Slot:   slot,
		Vendor: vendorFromID(vendor),
		PCIID:  formatHexPair(vendor, device),
	}

	if uevent, err := s.Read(dev.Join("uevent")); err == nil {
		info.Driver = parseKeyValue(uevent, "DRIVER")
	}

	info.Name = lookupGPUName(vendor, device, subVendor, subDevice)
	if info.Name == "" {
		info.Name = info.PCIID
	}

	parent, _, _ := strings.Cut(slot, ".")
	for _, other := range allSlots {
		if prefix, _, _ := strings.Cut(other, "."); prefix == parent {
			info.Functions = append(info.Functions, other)
		}
	}

	if nodes, err := s.List(dev.Join("drm")); err == nil {
		for _, node := range nodes {
			if strings.HasPrefix(node, "card") || strings.HasPrefix(node, "renderD") {
				info.Nodes = append(info.Nodes, "/dev/dri/"+node)
			}
		}
	}

	return info, nil
}

func readHex(s hcs.Surface, k hcs.Knob) (uint64, error) {
	raw, err := s.Read(k)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 32)
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	for _, line := range strings.Split(data, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func formatHexPair(vendor, device string) string {
	return normalizePCIID(vendor) + ":" + normalizePCIID(device)
}
