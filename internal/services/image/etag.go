package image

import (
	"fmt"
	"strings"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
)

// hashETag 哈希路由：完整地址哈希
func hashETag(img *models.Image) string {
	return `"` + img.AddressHash + `"`
}

// idETag id / token / 短码路由：id 与更新时间
func idETag(img *models.Image) string {
	return fmt.Sprintf(`"%d-%d"`, img.ID, img.UpdatedAt.Unix())
}

// NotModified 判断 If-None-Match 是否命中
// 支持逗号分隔的多个值、* 以及弱校验前缀 W/
func NotModified(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	target := strings.TrimPrefix(etag, "W/")
	for _, part := range strings.Split(ifNoneMatch, ",") {
		part = strings.TrimSpace(part)
		if part == "*" {
			return true
		}
		if strings.TrimPrefix(part, "W/") == target {
			return true
		}
	}
	return false
}
