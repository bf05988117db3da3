package image

import (
	"bytes"
	"errors"
	"fmt"
	"image/gif"
	"image/png"

	"github.com/disintegration/imaging"
)

// imagingProcessor 纯 Go 实现，无法编码 webp
type imagingProcessor struct{}

func (p *imagingProcessor) Name() string {
	return "imaging"
}

func (p *imagingProcessor) Transform(data []byte, mimeType string, opts Options) (result TransformResult) {
	defer func() {
		if r := recover(); r != nil {
			result = fallback(data, mimeType, fmt.Errorf("image transform panicked: %v", r))
		}
	}()

	target := normalizeFormat(opts.Format)
	if target == "" {
		target = FormatFromMIME(mimeType)
	}

	switch target {
	case "webp":
		return keepOriginal(data, mimeType, errors.New("webp encoding requires the vips processor"))
	case "gif":
		if isAnimatedGIF(data) {
			return keepOriginal(data, mimeType, errors.New("animated gif kept unchanged"))
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fallback(data, mimeType, fmt.Errorf("failed to decode image: %w", err))
	}

	if opts.MaxWidth > 0 || opts.MaxHeight > 0 {
		w, h := opts.MaxWidth, opts.MaxHeight
		if w <= 0 {
			w = img.Bounds().Dx()
		}
		if h <= 0 {
			h = img.Bounds().Dy()
		}
		// Fit 只缩小不放大
		img = imaging.Fit(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch target {
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality(opts.Quality)))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "bmp":
		err = imaging.Encode(&buf, img, imaging.BMP)
	default:
		return fallback(data, mimeType, fmt.Errorf("unsupported target format %q", target))
	}
	if err != nil {
		return fallback(data, mimeType, fmt.Errorf("failed to encode %s: %w", target, err))
	}

	bounds := img.Bounds()
	return TransformResult{
		Data:    buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Format:  target,
		Applied: true,
	}
}

// keepOriginal 保留原始字节，但尽量给出尺寸
func keepOriginal(data []byte, mimeType string, warning error) TransformResult {
	res := fallback(data, mimeType, warning)
	if w, h, _, err := Probe(data); err == nil {
		res.Width, res.Height = w, h
	}
	return res
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	return err == nil && len(g.Image) > 1
}
