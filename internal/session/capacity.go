package session

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AutoGPULayers asks for the GPU layer count to be estimated from VRAM.
const AutoGPULayers = -1

// MaxGPULayers caps estimated offloading.
const MaxGPULayers = 32

// SizeClass is the parameter count bucket of a model.
type SizeClass string

const (
	Size7B SizeClass = "7B"
	Size8B SizeClass = "8B"
)

// gbPerLayer is the approximate memory one Q4_K_M layer occupies.
var gbPerLayer = map[SizeClass]float64{
	Size7B: 0.16,
	Size8B: 0.18,
}

// DetectSizeClass reads the size class from the weights file name, e.g.
// dorna-llama3-8b-instruct.Q4_K_M.gguf is 8B.
func DetectSizeClass(path string) (SizeClass, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "7b"):
		return Size7B, nil
	case strings.Contains(name, "8b"):
		return Size8B, nil
	default:
		return "", fmt.Errorf("%w: no size class (7B or 8B) in file name %q", ErrConfiguration, name)
	}
}

// EstimateGPULayers returns how many layers of a class fit in vramGB,
// clamped to [0, MaxGPULayers].
func EstimateGPULayers(class SizeClass, vramGB float64) (int, error) {
	per, ok := gbPerLayer[class]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported size class %q", ErrConfiguration, class)
	}
	n := int(vramGB / per)
	return min(max(n, 0), MaxGPULayers), nil
}

// ResolveOptions fills in the GPU layer count for d when base asks for
// automatic estimation and vramGB is known. Without VRAM information the
// runtime picks.
func ResolveOptions(d Descriptor, base Options, vramGB float64) (Options, error) {
	opts := base
	if opts.GPULayers != AutoGPULayers || vramGB <= 0 {
		return opts, nil
	}
	class, err := DetectSizeClass(d.Path)
	if err != nil {
		return opts, err
	}
	n, err := EstimateGPULayers(class, vramGB)
	if err != nil {
		return opts, err
	}
	opts.GPULayers = n
	return opts, nil
}
