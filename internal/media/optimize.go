package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	// Register additional image formats
	_ "golang.org/x/image/webp"
)

// Quality levels to try (descending order)
var qualityLevels = []int{MaxQuality, 75, 65, 55, 45, MinQuality}

// Dimension steps as fractions of the limit, tried when a re-encode alone
// does not fit the byte budget.
var dimensionSteps = []float64{1, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4}

// Optimizer resizes and compresses images to fit model limits.
type Optimizer struct {
	MaxDimension int
	MaxBytes     int
}

// NewOptimizer applies defaults for non-positive limits.
func NewOptimizer(maxDimension, maxBytes int) *Optimizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Optimizer{MaxDimension: maxDimension, MaxBytes: maxBytes}
}

// Optimize returns data unchanged when it is already within limits, and a
// downscaled re-encode otherwise.
func (o *Optimizer) Optimize(data []byte) (*ImageData, error) {
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= o.MaxDimension && height <= o.MaxDimension && len(data) <= o.MaxBytes {
		return &ImageData{Data: data, MimeType: mimeType, Width: width, Height: height}, nil
	}

	return o.gridSearch(img, width, height, format)
}

// gridSearch tries dimension and quality combinations, largest first, and
// returns the first encoding within MaxBytes.
func (o *Optimizer) gridSearch(img image.Image, origWidth, origHeight int, format string) (*ImageData, error) {
	maxDim := max(origWidth, origHeight)
	limit := min(maxDim, o.MaxDimension)

	var smallest *ImageData
	for _, step := range dimensionSteps {
		targetDim := int(float64(limit) * step)
		if targetDim < 1 {
			break
		}

		resized := img
		newWidth, newHeight := origWidth, origHeight
		if origWidth > targetDim || origHeight > targetDim {
			resized = imaging.Fit(img, targetDim, targetDim, imaging.Lanczos)
			b := resized.Bounds()
			newWidth, newHeight = b.Dx(), b.Dy()
		}

		for _, quality := range qualityLevels {
			encoded, mimeType, err := encodeImage(resized, format, quality)
			if err != nil {
				continue
			}
			candidate := &ImageData{Data: encoded, MimeType: mimeType, Width: newWidth, Height: newHeight}
			if len(encoded) <= o.MaxBytes {
				return candidate, nil
			}
			if smallest == nil || len(encoded) < len(smallest.Data) {
				smallest = candidate
			}
			// lossless formats encode the same at every quality
			if mimeType != "image/jpeg" {
				break
			}
		}
	}

	if smallest != nil {
		return nil, fmt.Errorf("image could not be reduced below %d bytes (got %d)", o.MaxBytes, len(smallest.Data))
	}
	return nil, fmt.Errorf("failed to optimize image")
}

// encodeImage encodes an image in the specified format with given quality
func encodeImage(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err

	case "gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err

	default:
		// jpeg, and webp which Go can only decode
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	}
}
