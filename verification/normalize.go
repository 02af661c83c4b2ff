package verification

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
)

// maxImageDim caps the longest side before the bytes reach the OCR provider.
const maxImageDim = 2000

// NormalizeImage decodes, downscales and re-encodes image content so the OCR
// provider always receives a bounded JPEG. Non-image content passes through
// untouched.
func NormalizeImage(data []byte, contentType string) ([]byte, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("verification: decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest > maxImageDim {
		scale := float64(maxImageDim) / float64(longest)
		img = resizeNearest(img, int(float64(w)*scale), int(float64(h)*scale))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("verification: encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func resizeNearest(src image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sb.Dy()/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sb.Dx()/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
