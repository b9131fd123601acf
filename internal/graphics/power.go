package graphics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/gpu"
	"github.com/skobkin/gfxpower/internal/hcs"
)

var pciDevices = hcs.Sys("bus", "pci", "devices")

func (e *Engine) discrete() (gpu.Device, error) {
	if !e.caps.Switchable || len(e.caps.Discrete) == 0 {
		return gpu.Device{}, fmt.Errorf("no switchable discrete GPU: %w", errs.ErrInvalidState)
	}
	return e.caps.Discrete[0], nil
}

// Power reads the live power posture of the discrete GPU. A device that is no
// longer on the bus is Off.
func (e *Engine) Power() (Power, error) {
	dev, err := e.discrete()
	if err != nil {
		return "", err
	}
	control, err := e.surface.Read(pciDevices.Join(dev.Slot, "power", "control"))
	switch {
	case errors.Is(err, errs.ErrUnsupported):
		return PowerOff, nil
	case err != nil:
		return "", err
	case control == "on":
		return PowerOn, nil
	default:
		return PowerAuto, nil
	}
}

// SetPower changes the live power posture of the discrete GPU. Off unbinds and
// removes every PCI function of the device and is refused while any process
// holds one of its DRM nodes. On and Auto rescan the bus when the device is
// gone and then write the runtime PM policy.
func (e *Engine) SetPower(p Power) error {
	dev, err := e.discrete()
	if err != nil {
		return err
	}
	if !e.caps.RuntimePM {
		return fmt.Errorf("discrete GPU lacks runtime power management: %w", errs.ErrUnsupported)
	}

	if p == PowerOff {
		return e.powerOff(dev)
	}

	control := pciDevices.Join(dev.Slot, "power", "control")
	if _, err := e.surface.Read(control); errors.Is(err, errs.ErrUnsupported) {
		e.logger.Info("rescanning PCI bus for discrete GPU", "slot", dev.Slot)
		if err := e.surface.Rescan("pci"); err != nil {
			return err
		}
		if e.settle > 0 {
			time.Sleep(e.settle)
		}
	}

	value := "auto"
	if p == PowerOn {
		value = "on"
	}
	if err := e.surface.Write(control, value); err != nil {
		return err
	}
	e.logger.Info("discrete GPU power set", "slot", dev.Slot, "power", p)
	return nil
}

func (e *Engine) powerOff(dev gpu.Device) error {
	if e.procRoot != "" && len(dev.Nodes) > 0 {
		holders, err := gpu.Holders(e.procRoot, dev.Nodes)
		if err != nil {
			return fmt.Errorf("scan device holders: %w: %w", errs.ErrIO, err)
		}
		if len(holders) > 0 {
			names := make([]string, 0, len(holders))
			for _, h := range holders {
				names = append(names, fmt.Sprintf("%s[%d]", h.Comm, h.PID))
			}
			return fmt.Errorf("discrete GPU in use by %s: %w", strings.Join(names, ", "), errs.ErrInvalidState)
		}
	}

	for _, fn := range dev.Functions {
		err := e.surface.Write(pciDevices.Join(fn, "driver", "unbind"), fn)
		if err != nil && !errors.Is(err, errs.ErrUnsupported) {
			return err
		}
	}
	for _, fn := range dev.Functions {
		err := e.surface.Write(pciDevices.Join(fn, "remove"), "1")
		if err != nil && !errors.Is(err, errs.ErrUnsupported) {
			return err
		}
	}
	e.logger.Info("discrete GPU removed from bus", "slot", dev.Slot, "functions", len(dev.Functions))
	return nil
}
