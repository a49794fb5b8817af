package caption

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	// 注册常见的胸片导出格式。
	_ "image/gif"
	_ "image/jpeg"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage marks uploads that are not a decodable raster image.
var ErrUnsupportedImage = errors.New("unsupported image")

// DetectMIME sniffs the content type from the leading bytes of data.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// DecodeImage 校验上传内容并解码为图像，返回嗅探到的 MIME 类型。
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrUnsupportedImage)
	}

	mime := DetectMIME(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, mime, fmt.Errorf("%w: detected %s", ErrUnsupportedImage, mime)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, mime, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, mime, nil
}

// Normalize converts img to opaque 8-bit RGB. Transparent regions are
// flattened onto white, which is how viewers display exported radiographs.
func Normalize(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Over)
	return rgba
}

// EncodePNG 将图像编码为 PNG。
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
