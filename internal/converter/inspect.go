package converter

import (
	"fmt"
	"image"
	"os"
)

// Info describes a decoded source image.
type Info struct {
	Format   string
	Width    int
	Height   int
	HasAlpha bool
}

// Inspect decodes a file and reports its format, pixel dimensions, and
// whether it carries a non-opaque alpha channel. Used by the inspect command
// for debugging inputs that fail to convert.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}

	b := img.Bounds()
	return Info{
		Format:   format,
		Width:    b.Dx(),
		Height:   b.Dy(),
		HasAlpha: hasAlpha(img),
	}, nil
}
