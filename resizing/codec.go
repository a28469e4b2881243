package resizing

import (
	"bytes"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/jrsteele09/go-image-resizer/internal/errors"

	_ "golang.org/x/image/webp"
)

const DefaultJPEGQuality = 90

// Decode reads any supported format and applies the EXIF orientation. Images whose header
// declares more than maxPixels pixels are rejected before any pixel data is decoded; a
// maxPixels of zero or less disables the check.
func Decode(r io.Reader, maxPixels int64) (image.Image, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, errors.Wrapf(err, "reading image header")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "image is %dx%d, over the %d pixel limit", cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(io.MultiReader(&header, r), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image")
	}
	return img, nil
}

// Contain scales img to fit inside width x height keeping its aspect ratio and centres it
// on a transparent canvas of exactly that size.
func Contain(img image.Image, width, height int) *image.NRGBA {
	canvas := imaging.New(width, height, color.NRGBA{R: 255, G: 255, B: 255, A: 0})
	b := img.Bounds()
	if b.Dx() <= width && b.Dy() <= height {
		scale := min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
		img = imaging.Resize(img, int(float64(b.Dx())*scale), int(float64(b.Dy())*scale), imaging.Lanczos)
	} else {
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	}
	return imaging.PasteCenter(canvas, img)
}

// EncodeJPEG writes img as JPEG. JPEG has no alpha channel, so transparent padding is
// flattened onto white.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	b := img.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
	if err := imaging.Encode(w, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return errors.Wrapf(err, "encoding jpeg")
	}
	return nil
}
