// Package imaging prepares image files for vision model requests.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"vision-tutor/internal/domain"
)

// Formats vision APIs accept as-is.
var passthrough = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// DefaultMaxPixels bounds the decoded size of an image (about 200MB as RGBA).
const DefaultMaxPixels = 50_000_000

type Config struct {
	MaxDimension int   // longest side in pixels, 0 disables resizing
	MaxPixels    int64 // width*height refused above this, checked before decoding
	JPEGQuality  int
}

func DefaultConfig() Config {
	return Config{
		MaxDimension: 2048,
		MaxPixels:    DefaultMaxPixels,
		JPEGQuality:  85,
	}
}

type Encoder struct {
	cfg Config
}

func NewEncoder(cfg Config) *Encoder {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	return &Encoder{cfg: cfg}
}

// Encode reads an image file and returns it base64 encoded. Images larger than
// MaxDimension, or in formats vision APIs do not accept, are re-encoded.
func (e *Encoder) Encode(path string) (domain.EncodedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.EncodedImage{}, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return domain.EncodedImage{}, fmt.Errorf("image %s is empty", path)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		mime := http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			return domain.EncodedImage{}, fmt.Errorf("%s is not an image (%s)", path, mime)
		}
		return domain.EncodedImage{
			Base64:   base64.StdEncoding.EncodeToString(data),
			MimeType: mime,
		}, nil
	}

	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > e.cfg.MaxPixels {
		return domain.EncodedImage{}, fmt.Errorf("%s image is %dx%d, above the %d pixel limit",
			format, cfg.Width, cfg.Height, e.cfg.MaxPixels)
	}

	if passthrough[format] && !e.tooLarge(cfg.Width, cfg.Height) {
		return domain.EncodedImage{
			Base64:   base64.StdEncoding.EncodeToString(data),
			MimeType: "image/" + format,
			Width:    cfg.Width,
			Height:   cfg.Height,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.EncodedImage{}, fmt.Errorf("decoding %s image: %w", format, err)
	}

	resized := false
	if e.tooLarge(cfg.Width, cfg.Height) {
		img = e.resize(img)
		resized = true
	}

	var (
		buf  bytes.Buffer
		mime string
	)
	switch format {
	case "png", "gif":
		err = png.Encode(&buf, img)
		mime = "image/png"
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.cfg.JPEGQuality})
		mime = "image/jpeg"
	}
	if err != nil {
		return domain.EncodedImage{}, fmt.Errorf("encoding image: %w", err)
	}

	b := img.Bounds()
	return domain.EncodedImage{
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType: mime,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Resized:  resized,
	}, nil
}

func (e *Encoder) tooLarge(w, h int) bool {
	return e.cfg.MaxDimension > 0 && (w > e.cfg.MaxDimension || h > e.cfg.MaxDimension)
}

// resize scales img so its longest side equals MaxDimension, keeping aspect.
func (e *Encoder) resize(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	limit := e.cfg.MaxDimension

	newW, newH := limit, h*limit/w
	if h > w {
		newW, newH = w*limit/h, limit
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
