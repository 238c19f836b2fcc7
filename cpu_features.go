package sassplay

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// HostFeatures describes the CPU the emulated device runs on.
type HostFeatures struct {
	Arch       string `json:"arch"`
	Cores      int    `json:"cores"`
	HasAVX2    bool   `json:"avx2"`
	HasFMA     bool   `json:"fma"`
	HasAVX512F bool   `json:"avx512f"`
	HasASIMD   bool   `json:"asimd"`
}

// DetectHost reports the host's SIMD capabilities.
func DetectHost() HostFeatures {
	return HostFeatures{
		Arch:       runtime.GOARCH,
		Cores:      runtime.NumCPU(),
		HasAVX2:    cpu.X86.HasAVX2,
		HasFMA:     cpu.X86.HasFMA,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasASIMD:   cpu.ARM64.HasASIMD,
	}
}

// String returns a short description such as "amd64, 16 cores, AVX2 FMA".
func (h HostFeatures) String() string {
	var features []string
	if h.HasAVX2 {
		features = append(features, "AVX2")
	}
	if h.HasFMA {
		features = append(features, "FMA")
	}
	if h.HasAVX512F {
		features = append(features, "AVX512F")
	}
	if h.HasASIMD {
		features = append(features, "ASIMD")
	}
	if len(features) == 0 {
		features = append(features, "scalar")
	}
	return fmt.Sprintf("%s, %d cores, %s", h.Arch, h.Cores, strings.Join(features, " "))
}
