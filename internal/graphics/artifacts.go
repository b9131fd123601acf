package graphics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skobkin/gfxpower/internal/errs"
	"github.com/skobkin/gfxpower/internal/hcs"
)

const generatedHeader = "# Automatically generated by gfxpowerd\n"

var (
	primeDiscreteFile = hcs.Host("etc", "prime-discrete")
	modprobeFile      = hcs.Host("etc", "modprobe.d", "gfxpower.conf")
	xorgConfFile      = hcs.Host("usr", "share", "X11", "xorg.conf.d", "11-nvidia-discrete.conf")
	memSleepKnob      = hcs.Sys("power", "mem_sleep")
)

const (
	systemctlTool       = "systemctl"
	updateInitramfsTool = "update-initramfs"
	fallbackService     = "nvidia-fallback.service"
)

var sleepServices = []string{"nvidia-hibernate.service", "nvidia-resume.service", "nvidia-suspend.service"}

var modprobeBody = map[Mode]string{
	Nvidia: "options nvidia-drm modeset=1\n",
	Hybrid: `blacklist i2c_nvidia_gpu
alias i2c_nvidia_gpu off
options nvidia NVreg_DynamicPowerManagement=0x02
options nvidia-drm modeset=1
`,
	Compute: `blacklist i2c_nvidia_gpu
blacklist nvidia-drm
blacklist nvidia-modeset
alias i2c_nvidia_gpu off
alias nvidia-drm off
alias nvidia-modeset off
options nvidia NVreg_DynamicPowerManagement=0x02
`,
	Integrated: `blacklist i2c_nvidia_gpu
blacklist nouveau
blacklist nvidia
blacklist nvidia-drm
blacklist nvidia-modeset
alias i2c_nvidia_gpu off
alias nouveau off
alias nvidia off
alias nvidia-drm off
alias nvidia-modeset off
`,
}

const (
	sleepS0ix = "# Preserve video memory through suspend\noptions nvidia NVreg_EnableS0ixPowerManagement=1\n"
	sleepS3   = "# Preserve video memory through suspend\noptions nvidia NVreg_PreserveVideoMemoryAllocations=1\n"
)

const xorgDiscrete = `Section "OutputClass"
    Identifier "NVIDIA"
    MatchDriver "nvidia-drm"
    Driver "nvidia"
    Option "PrimaryGPU" "Yes"
    ModulePath "/lib/x86_64-linux-gnu/nvidia/xorg"
EndSection
`

func primeDiscreteValue(m Mode) string {
	switch m {
	case Hybrid:
		return "on-demand"
	case Nvidia:
		return "on"
	default:
		return "off"
	}
}

// modprobeContent renders the module configuration for m. Modes that load the
// NVIDIA driver also get video memory preservation options matching the
// platform's suspend method.
func (e *Engine) modprobeContent(m Mode) string {
	var b strings.Builder
	b.WriteString(generatedHeader)
	b.WriteString(modprobeBody[m])
	if m != Integrated {
		memSleep, _ := e.surface.Read(memSleepKnob)
		if strings.Contains(memSleep, "[s2idle]") {
			b.WriteString(sleepS0ix)
		} else {
			b.WriteString(sleepS3)
		}
	}
	return b.String()
}

// render regenerates every boot artifact for m. Failures are collected as
// warnings and never stop the remaining steps.
func (e *Engine) render(ctx context.Context, m Mode) []string {
	var warnings []string
	note := func(step string, err error) {
		if err == nil {
			return
		}
		if errors.Is(err, errs.ErrUnsupported) {
			e.logger.Info("boot artifact step unavailable", "step", step, "err", err)
		} else {
			e.logger.Warn("boot artifact step failed", "step", step, "err", err)
		}
		warnings = append(warnings, fmt.Sprintf("%s: %v", step, err))
	}

	e.logger.Info("writing boot artifacts", "mode", m)
	note("prime-discrete", e.surface.Write(primeDiscreteFile, primeDiscreteValue(m)+"\n"))
	note("modprobe", e.surface.Write(modprobeFile, e.modprobeContent(m)))

	if m != Integrated {
		for _, svc := range sleepServices {
			note("enable "+svc, e.surface.Invoke(ctx, systemctlTool, "enable", svc))
		}
	}

	if m == Nvidia {
		note("xorg", e.surface.Write(xorgConfFile, generatedHeader+xorgDiscrete))
	} else {
		note("xorg", e.surface.Remove(xorgConfFile))
	}

	action := "disable"
	if m == Nvidia {
		action = "enable"
	}
	note(action+" "+fallbackService, e.surface.Invoke(ctx, systemctlTool, action, fallbackService))
	note("initramfs", e.surface.Invoke(ctx, updateInitramfsTool, "-u"))

	return warnings
}

// artifactsMatch reports whether the on-disk boot artifacts describe m.
func (e *Engine) artifactsMatch(m Mode) bool {
	prime, err := e.surface.Read(primeDiscreteFile)
	if err != nil || prime != primeDiscreteValue(m) {
		return false
	}
	modprobe, err := e.surface.Read(modprobeFile)
	if err != nil || modprobe != strings.TrimSpace(e.modprobeContent(m)) {
		return false
	}
	_, xorgErr := e.surface.Read(xorgConfFile)
	return (xorgErr == nil) == (m == Nvidia)
}
