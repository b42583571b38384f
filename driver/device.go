package driver

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// AcceleratorKind is a bitmask selecting device classes, per spec §6.
type AcceleratorKind int

const (
	CPU AcceleratorKind = 1 << iota
	GPU
	ACC
)

func (k AcceleratorKind) String() string {
	var parts []string
	if k&CPU != 0 {
		parts = append(parts, "CPU")
	}
	if k&GPU != 0 {
		parts = append(parts, "GPU")
	}
	if k&ACC != 0 {
		parts = append(parts, "ACC")
	}
	if len(parts) == 0 {
		return "none"
	}
	s := parts[0]
	for _, p := range parts[1:] {
		s += "|" + p
	}
	return s
}

// Device is one enumerated compute device. The reference driver only ever
// enumerates CPU devices (optionally fissioned into cpuFissionCount
// pieces) plus, when AES-NI is present, one synthetic ACC device standing
// in for a fixed-function accelerator (kernellib's aes_encrypt_block).
type Device struct {
	ID       int
	Name     string
	Kind     AcceleratorKind
	NumCores int
}

// Features reports the CPU instruction-set extensions detected via
// golang.org/x/sys/cpu, the same dependency and detection style the
// teacher used to gate its GEMM kernels (cpu_features.go).
type Features struct {
	HasAVX2  bool
	HasAVX512F bool
	HasAESNI bool
}

var detectedFeatures = detectFeatures()

func detectFeatures() Features {
	return Features{
		HasAVX2:    cpu.X86.HasAVX2 && cpu.X86.HasFMA,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasAESNI:   cpu.X86.HasAES,
	}
}

// DetectedFeatures returns the CPU feature set detected at process start.
func DetectedFeatures() Features { return detectedFeatures }

// EnumerateDevices implements the "negative selector means all/all-minus-one"
// rule from spec §6 for CruncherFacade's cpuFissionCount/gpuCount
// parameters. The reference driver has no real GPU, so a gpuCount > 0
// request returns an error rather than fabricating fake GPU devices.
func EnumerateDevices(kindMask AcceleratorKind, cpuFissionCount, gpuCount int) ([]Device, error) {
	var devices []Device
	if kindMask&CPU != 0 {
		n := cpuFissionCount
		switch {
		case n < 0:
			n = runtime.NumCPU() - 1
			if n < 1 {
				n = 1
			}
		case n == 0:
			n = 1
		}
		for i := 0; i < n; i++ {
			devices = append(devices, Device{ID: len(devices), Name: "cpu", Kind: CPU, NumCores: runtime.NumCPU() / n})
		}
	}
	if kindMask&GPU != 0 {
		if gpuCount > 0 {
			return nil, NewError(ErrTypeDevice, "EnumerateDevices", "no GPU devices available to the reference driver", nil)
		}
		// gpuCount <= 0 ("all" or "all minus one" of zero GPUs) is a no-op.
	}
	if kindMask&ACC != 0 && detectedFeatures.HasAESNI {
		devices = append(devices, Device{ID: len(devices), Name: "aes-ni", Kind: ACC, NumCores: 1})
	}
	if len(devices) == 0 {
		return nil, NewError(ErrTypeDevice, "EnumerateDevices", "no devices matched kind mask", nil)
	}
	return devices, nil
}
