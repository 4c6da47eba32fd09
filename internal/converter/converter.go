package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors for the conversion pipeline. Per-item errors are wrapped
// with %w so callers can classify them with errors.Is.
var (
	// ErrUnreadableInput marks a source file that is missing, unreadable,
	// not a decodable image, or outside the accepted format set.
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrUnsupportedPreset marks a quality preset outside the three
	// recognized values. It is a batch-setup error, never a per-item one.
	ErrUnsupportedPreset = errors.New("unsupported quality preset")

	// ErrWriteFailure marks a failure to encode or write the output file.
	ErrWriteFailure = errors.New("write failure")
)

// Preset is one of the three fixed lossy quality levels.
type Preset int

const (
	// PresetBalanced encodes at quality 80 (recommended default).
	PresetBalanced Preset = iota
	// PresetHighQuality encodes at quality 90 (larger files).
	PresetHighQuality
	// PresetMaxCompression encodes at quality 60 (smallest files).
	PresetMaxCompression
)

// Quality returns the 0-100 encoder quality value for the preset.
func (p Preset) Quality() int {
	switch p {
	case PresetBalanced:
		return 80
	case PresetHighQuality:
		return 90
	case PresetMaxCompression:
		return 60
	default:
		return 0
	}
}

// Valid reports whether the preset is one of the three recognized values.
func (p Preset) Valid() bool {
	switch p {
	case PresetBalanced, PresetHighQuality, PresetMaxCompression:
		return true
	default:
		return false
	}
}

// String returns the configuration name of the preset.
func (p Preset) String() string {
	switch p {
	case PresetBalanced:
		return "balanced"
	case PresetHighQuality:
		return "high"
	case PresetMaxCompression:
		return "max"
	default:
		return fmt.Sprintf("preset(%d)", int(p))
	}
}

// ParsePreset parses a preset name as used in configuration and form values.
func ParsePreset(s string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "balanced":
		return PresetBalanced, nil
	case "high", "high-quality":
		return PresetHighQuality, nil
	case "max", "max-compression":
		return PresetMaxCompression, nil
	default:
		return 0, fmt.Errorf("%w: %q (valid: balanced, high, max)", ErrUnsupportedPreset, s)
	}
}

// Request describes a single file to convert.
type Request struct {
	InputPath string
	Preset    Preset
	// MaxDimension caps the longer side of the output in pixels.
	// Zero means no constraint. The pipeline never upscales.
	MaxDimension int
}

// Result describes the outcome of converting a single file.
type Result struct {
	InputPath  string
	OutputPath string
	InputSize  int64
	OutputSize int64
	Success    bool
	Message    string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// SavedPercent returns the size reduction as a percentage of the input size.
// Negative values mean the output grew.
func (r Result) SavedPercent() float64 {
	if r.InputSize <= 0 {
		return 0
	}
	return float64(r.InputSize-r.OutputSize) * 100 / float64(r.InputSize)
}

// Converter converts batches of images to WebP.
type Converter interface {
	// ConvertBatch converts each request independently and in order,
	// writing outputs into outputDir. It returns one Result per Request;
	// per-item failures are recorded in the Result and do not abort the
	// batch. An invalid preset rejects the whole batch up front.
	ConvertBatch(ctx context.Context, outputDir string, reqs []Request) ([]Result, error)
}

// acceptedExtensions is the source format contract: anything else fails
// with ErrUnreadableInput instead of passing through.
var acceptedExtensions = []string{
	".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp", ".gif", ".webp",
}

// AcceptedExtensions returns the lower-case source extensions the pipeline
// will decode.
func AcceptedExtensions() []string {
	out := make([]string, len(acceptedExtensions))
	copy(out, acceptedExtensions)
	return out
}

// IsAccepted reports whether the file's extension is a supported source format.
func IsAccepted(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range acceptedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// OutputName returns the output file name for an input path: the base name
// with the extension replaced by .webp, regardless of preset or dimensions.
func OutputName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".webp"
}
