// Package avatar turns an uploaded profile picture into the compressed JPEG
// kept in object storage.
package avatar

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	ContentType    = "image/jpeg"
	defaultQuality = 50
)

// ErrUnsupportedImage is returned for data that is not a decodable image.
var ErrUnsupportedImage = errors.New("unsupported image")

var supported = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff"}

type options struct {
	quality      int
	maxDimension int
}

type Option func(*options)

func WithQuality(quality int) Option {
	return func(o *options) { o.quality = quality }
}

// WithMaxDimension scales images down so neither side exceeds n pixels.
func WithMaxDimension(n int) Option {
	return func(o *options) { o.maxDimension = n }
}

// Normalize sniffs data, decodes it and re-encodes it as JPEG.
func Normalize(data []byte, opts ...Option) ([]byte, error) {
	o := options{quality: defaultQuality}
	for _, opt := range opts {
		opt(&o)
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), supported...) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mtype.String())
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	img = fit(img, o.maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fit(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDimension <= 0 || (w <= maxDimension && h <= maxDimension) {
		return img
	}
	if w >= h {
		h = max(1, h*maxDimension/w)
		w = maxDimension
	} else {
		w = max(1, w*maxDimension/h)
		h = maxDimension
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
