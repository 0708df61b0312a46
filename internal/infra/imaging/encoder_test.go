package imaging_test

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"vision-tutor/internal/infra/imaging"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{0, 0, 0, 0})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "test_image.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func decode(t *testing.T, b64 string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestEncoder_EncodeTransparentPixel(t *testing.T) {
	path := writePNG(t, 1, 1)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	got, err := imaging.NewEncoder(imaging.DefaultConfig()).Encode(path)
	require.NoError(t, err)

	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(original), got.Base64)
	assert.False(t, got.Resized)

	img := decode(t, got.Base64)
	assert.Equal(t, image.Pt(1, 1), img.Bounds().Size())
	assert.Equal(t, color.NRGBAModel, img.ColorModel())
}

func TestEncoder_ResizesLargeImages(t *testing.T) {
	path := writePNG(t, 100, 50)

	got, err := imaging.NewEncoder(imaging.Config{MaxDimension: 20}).Encode(path)
	require.NoError(t, err)

	assert.True(t, got.Resized)
	assert.Equal(t, 20, got.Width)
	assert.Equal(t, 10, got.Height)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, image.Pt(20, 10), decode(t, got.Base64).Bounds().Size())
}

func TestEncoder_ResizesPortrait(t *testing.T) {
	got, err := imaging.NewEncoder(imaging.Config{MaxDimension: 10}).Encode(writePNG(t, 30, 60))
	require.NoError(t, err)
	assert.Equal(t, 5, got.Width)
	assert.Equal(t, 10, got.Height)
}

func TestEncoder_ConvertsBMPToJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "scan.bmp")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	got, err := imaging.NewEncoder(imaging.DefaultConfig()).Encode(path)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", got.MimeType)
	assert.Equal(t, image.Pt(4, 4), decode(t, got.Base64).Bounds().Size())
}

func TestEncoder_FileNotFound(t *testing.T) {
	_, err := imaging.NewEncoder(imaging.DefaultConfig()).Encode(filepath.Join(t.TempDir(), "non_existent_image.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestEncoder_RejectsNonImages(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(text, []byte("definitely not pixels"), 0o644))
	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	enc := imaging.NewEncoder(imaging.DefaultConfig())
	_, err := enc.Encode(text)
	assert.Error(t, err)
	_, err = enc.Encode(empty)
	assert.Error(t, err)
}

// pngHeaderOnly writes a PNG whose IHDR claims w x h RGBA pixels but carries no
// pixel data.
func pngHeaderOnly(t *testing.T, w, h uint32) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := func(typ string, data []byte) {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(data))))
		body := append([]byte(typ), data...)
		buf.Write(body)
		require.NoError(t, binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body)))
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)

	var idat bytes.Buffer
	zw := zlib.NewWriter(&idat)
	require.NoError(t, zw.Close())
	chunk("IDAT", idat.Bytes())
	chunk("IEND", nil)

	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestEncoder_RefusesImagesAbovePixelLimit(t *testing.T) {
	path := pngHeaderOnly(t, 100000, 100000)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Less(t, info.Size(), int64(128))

	_, err = imaging.NewEncoder(imaging.DefaultConfig()).Encode(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100000x100000")
	assert.Contains(t, err.Error(), "pixel limit")
}

func TestEncoder_PixelLimitIsConfigurable(t *testing.T) {
	path := writePNG(t, 10, 10)

	_, err := imaging.NewEncoder(imaging.Config{MaxPixels: 99}).Encode(path)
	assert.Error(t, err)

	got, err := imaging.NewEncoder(imaging.Config{MaxPixels: 100}).Encode(path)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Width)
}
