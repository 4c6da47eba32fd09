package converter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	// Register decoders for the accepted source formats. WebP decoding is
	// registered by the chai2010/webp import above.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DefaultConverter is the default implementation of the Converter interface.
// It processes batch items sequentially so at most one decoded image is held
// in memory at a time.
type DefaultConverter struct {
	log *logrus.Logger

	// OnResult, when set, is called after each item finishes. Used by the
	// web layer to push per-file progress to clients.
	OnResult func(index, total int, res Result)
}

// NewDefaultConverter creates a new DefaultConverter instance.
func NewDefaultConverter(log *logrus.Logger) *DefaultConverter {
	if log == nil {
		log = logrus.New()
	}
	return &DefaultConverter{log: log}
}

// ConvertBatch converts each request in order, one output per input.
func (c *DefaultConverter) ConvertBatch(ctx context.Context, outputDir string, reqs []Request) ([]Result, error) {
	for _, req := range reqs {
		if !req.Preset.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedPreset, int(req.Preset))
		}
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	results := make([]Result, 0, len(reqs))
	for i, req := range reqs {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		res := c.convertOne(req, outputDir)
		if res.Success {
			c.log.WithFields(logrus.Fields{
				"file":   req.InputPath,
				"output": res.OutputPath,
				"saved":  fmt.Sprintf("%.1f%%", res.SavedPercent()),
			}).Info("Converted to WebP")
		} else {
			c.log.WithField("file", req.InputPath).Warnf("Conversion failed: %s", res.Message)
		}

		results = append(results, res)
		if c.OnResult != nil {
			c.OnResult(i, len(reqs), res)
		}
	}
	return results, nil
}

// convertOne converts a single file and returns its Result. All failures are
// captured in the Result so the rest of the batch keeps going.
func (c *DefaultConverter) convertOne(req Request, outputDir string) Result {
	res := Result{
		InputPath: req.InputPath,
		StartedAt: time.Now(),
	}

	info, err := os.Stat(req.InputPath)
	if err != nil {
		return failed(res, fmt.Errorf("%w: %v", ErrUnreadableInput, err))
	}
	res.InputSize = info.Size()

	if !IsAccepted(req.InputPath) {
		return failed(res, fmt.Errorf("%w: unsupported extension %q",
			ErrUnreadableInput, filepath.Ext(req.InputPath)))
	}

	img, err := loadImage(req.InputPath)
	if err != nil {
		return failed(res, fmt.Errorf("%w: %v", ErrUnreadableInput, err))
	}
	alpha := hasAlpha(img)

	if req.MaxDimension > 0 {
		// Fit scales down proportionally and never upscales.
		img = imaging.Fit(img, req.MaxDimension, req.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := encodeWebP(&buf, img, req.Preset, alpha); err != nil {
		return failed(res, fmt.Errorf("%w: encode: %v", ErrWriteFailure, err))
	}

	outPath := filepath.Join(outputDir, OutputName(req.InputPath))
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		_ = os.Remove(tmpPath)
		return failed(res, fmt.Errorf("%w: %v", ErrWriteFailure, err))
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return failed(res, fmt.Errorf("%w: %v", ErrWriteFailure, err))
	}

	res.OutputPath = outPath
	res.OutputSize = int64(buf.Len())
	res.Success = true
	res.Message = "converted"
	res.FinishedAt = time.Now()
	return res
}

// encodeWebP writes the image as WebP. Sources with an alpha channel keep it
// (lossless under the high quality preset, matching the original tool);
// opaque sources are flattened to RGB so the output carries no alpha channel.
func encodeWebP(buf *bytes.Buffer, img image.Image, preset Preset, alpha bool) error {
	var (
		data []byte
		err  error
	)
	if alpha {
		if preset == PresetHighQuality {
			data, err = webp.EncodeLosslessRGBA(img)
		} else {
			data, err = webp.EncodeRGBA(img, float32(preset.Quality()))
		}
	} else {
		data, err = webp.EncodeRGB(img, float32(preset.Quality()))
	}
	if err != nil {
		return err
	}
	_, err = buf.Write(data)
	return err
}

// loadImage decodes the source image and applies EXIF orientation where the
// format can carry it, so the encoded pixels match the displayed image.
// Animated GIFs decode to their first frame.
func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	if o := readOrientation(path); o > 1 {
		img = applyOrientation(img, o)
	}
	return img, nil
}

// readOrientation returns the EXIF orientation tag value, or 0 when absent.
func readOrientation(path string) int {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".tiff", ".tif":
	default:
		return 0
	}

	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

// applyOrientation normalizes the image for EXIF orientation values 2-8.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// hasAlpha reports whether the image carries a non-opaque alpha channel.
func hasAlpha(img image.Image) bool {
	type opaquer interface {
		Opaque() bool
	}
	if o, ok := img.(opaquer); ok {
		return !o.Opaque()
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// failed finalizes a Result for a per-item error.
func failed(res Result, err error) Result {
	res.Err = err
	res.Message = err.Error()
	res.FinishedAt = time.Now()
	return res
}
