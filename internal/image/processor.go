// Package image 提供上传前的缩放与重新压缩
// 处理失败不会中断上传：返回原始字节并在 Warning 中说明原因
package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultQuality 未指定质量时的默认值
const DefaultQuality = 85

// Options 处理参数，MaxWidth/MaxHeight 为 0 表示不限制
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	// Format 目标格式，为空时保持原格式
	Format string
}

// TransformResult 处理结果
type TransformResult struct {
	Data    []byte
	Width   int
	Height  int
	Format  string
	Applied bool
	Warning error
}

// Processor 图片处理器
type Processor interface {
	Transform(data []byte, mimeType string, opts Options) TransformResult
	Name() string
}

// NewProcessor 按名称创建处理器，"vips" 使用 libvips，其余使用纯 Go 实现
func NewProcessor(name string) Processor {
	if strings.EqualFold(name, "vips") {
		return newVipsProcessor()
	}
	return &imagingProcessor{}
}

// FormatFromMIME image/jpeg -> jpeg
func FormatFromMIME(mimeType string) string {
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok {
		return ""
	}
	return normalizeFormat(sub)
}

func normalizeFormat(f string) string {
	switch f = strings.ToLower(f); f {
	case "jpg", "pjpeg":
		return "jpeg"
	case "x-ms-bmp":
		return "bmp"
	default:
		return f
	}
}

func quality(q int) int {
	if q <= 0 || q > 100 {
		return DefaultQuality
	}
	return q
}

// fallback 原样返回，尺寸未知
func fallback(data []byte, mimeType string, err error) TransformResult {
	return TransformResult{
		Data:    data,
		Format:  FormatFromMIME(mimeType),
		Warning: err,
	}
}

// Probe 读取图片尺寸与格式，不解码像素
func Probe(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to probe image: %w", err)
	}
	return cfg.Width, cfg.Height, format, nil
}
