// Package qr renders verification URLs as QR code images.
package qr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

// Margin is the quiet zone around the symbol, in modules.
const Margin = 2

const (
	minSize = 64
	maxSize = 2048
)

// Render encodes data with the highest error-correction level and returns a
// size x size PNG. The symbol is scaled to whole pixels per module and centered.
func Render(data string, size int) ([]byte, error) {
	if data == "" {
		return nil, fmt.Errorf("qr: empty data")
	}
	if size < minSize {
		size = minSize
	}
	if size > maxSize {
		size = maxSize
	}

	code, err := qrcode.New(data, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	code.DisableBorder = true
	bitmap := code.Bitmap()

	modules := len(bitmap) + 2*Margin
	scale := size / modules
	if scale < 1 {
		scale = 1
		size = modules
	}
	offset := (size - scale*len(bitmap)) / 2

	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{color.White, color.Black})
	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetColorIndex(offset+x*scale+dx, offset+y*scale+dy, 1)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qr: png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBase64 returns Render's output as a base64 PNG data URL.
func RenderBase64(data string, size int) (string, error) {
	img, err := Render(data, size)
	if err != nil {
		return "", err
	}
	return DataURL(img), nil
}

// DataURL wraps PNG bytes in a data URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
