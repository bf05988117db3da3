package validator

import (
	"strings"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
)

// MaxPageSize 列表接口单页上限
const MaxPageSize = 100

// IsImageMIME 声明的类型必须属于 image/*
// 这里只校验客户端声明，不探测内容
func IsImageMIME(mimeType string) bool {
	mt := utils.NormalizeMIME(mimeType)
	return strings.HasPrefix(mt, "image/") && len(mt) > len("image/")
}

// ClampPage 规范化分页参数
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = 20
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// ClampQuality 质量参数超出 1-100 时返回默认值
func ClampQuality(q, def int) int {
	if q < 1 || q > 100 {
		return def
	}
	return q
}
