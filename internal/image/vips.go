package image

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var vipsOnce sync.Once

// vipsProcessor 基于 libvips，支持 webp 编码
type vipsProcessor struct{}

func newVipsProcessor() *vipsProcessor {
	vipsOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelError)
		vips.Startup(nil)
		log.Println("[Image] libvips started")
	})
	return &vipsProcessor{}
}

func (p *vipsProcessor) Name() string {
	return "vips"
}

func (p *vipsProcessor) Transform(data []byte, mimeType string, opts Options) (result TransformResult) {
	defer func() {
		if r := recover(); r != nil {
			result = fallback(data, mimeType, fmt.Errorf("image transform panicked: %v", r))
		}
	}()

	target := normalizeFormat(opts.Format)
	if target == "" {
		target = FormatFromMIME(mimeType)
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return fallback(data, mimeType, fmt.Errorf("failed to load image: %w", err))
	}
	defer img.Close()

	if opts.MaxWidth > 0 || opts.MaxHeight > 0 {
		scale := 1.0
		if opts.MaxWidth > 0 {
			scale = math.Min(scale, float64(opts.MaxWidth)/float64(img.Width()))
		}
		if opts.MaxHeight > 0 {
			scale = math.Min(scale, float64(opts.MaxHeight)/float64(img.Height()))
		}
		if scale < 1 {
			if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
				return fallback(data, mimeType, fmt.Errorf("failed to resize image: %w", err))
			}
		}
	}

	q := quality(opts.Quality)
	var out []byte
	switch target {
	case "jpeg":
		out, _, err = img.ExportJpeg(&vips.JpegExportParams{Quality: q, Interlace: true, StripMetadata: true})
	case "png":
		out, _, err = img.ExportPng(&vips.PngExportParams{Compression: 9, StripMetadata: true})
	case "webp":
		out, _, err = img.ExportWebp(&vips.WebpExportParams{Quality: q, ReductionEffort: 4, StripMetadata: true})
	case "gif":
		out, _, err = img.ExportGIF(vips.NewGifExportParams())
	default:
		return fallback(data, mimeType, fmt.Errorf("unsupported target format %q", target))
	}
	if err != nil {
		return fallback(data, mimeType, fmt.Errorf("failed to encode %s: %w", target, err))
	}

	return TransformResult{
		Data:    out,
		Width:   img.Width(),
		Height:  img.Height(),
		Format:  target,
		Applied: true,
	}
}
