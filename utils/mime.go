package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// mimeToExtMap MIME类型到安全扩展名的映射
var mimeToExtMap = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// NormalizeMIME 去掉参数并转为小写
func NormalizeMIME(mimeType string) string {
	mimeType = strings.Split(mimeType, ";")[0]
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// GetSafeExtension 根据MIME类型返回安全的文件扩展名
// 如果MIME类型不被允许，返回空字符串
func GetSafeExtension(mimeType string) string {
	if ext, ok := mimeToExtMap[NormalizeMIME(mimeType)]; ok {
		return ext
	}
	return ""
}

// GetExtensionFromFilename 从文件名获取扩展名（小写）
func GetExtensionFromFilename(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// ContentTypeForPath 由存储路径的扩展名推断 Content-Type，未知时返回空
func ContentTypeForPath(p string) string {
	ext := GetExtensionFromFilename(p)
	if ext == "" {
		return ""
	}
	if ext == ".jpg" || ext == ".jpeg" {
		return "image/jpeg"
	}
	return mime.TypeByExtension(ext)
}
