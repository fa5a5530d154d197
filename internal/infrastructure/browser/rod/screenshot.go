package rod

import (
	"bytes"
	"fmt"

	"browser-session/internal/domain/entity"

	"github.com/disintegration/imaging"
)

const defaultJPEGQuality = 80

// optimizeScreenshot fits the capture into the configured bounds and
// re-encodes it as JPEG.
func optimizeScreenshot(raw []byte, opts entity.ImageOptimization) (*entity.Screenshot, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}

	bounds := img.Bounds()
	maxW, maxH := opts.MaxWidth, opts.MaxHeight
	if maxW <= 0 {
		maxW = bounds.Dx()
	}
	if maxH <= 0 {
		maxH = bounds.Dy()
	}
	if bounds.Dx() > maxW || bounds.Dy() > maxH {
		img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultJPEGQuality
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return &entity.Screenshot{
		Data:   buf.Bytes(),
		Format: "jpeg",
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}
