package generator

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/google/uuid"
)

// hashPrefixLength 路径中保留的地址哈希前缀长度
const hashPrefixLength = 16

var safeExtPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// PathGenerator 分层路径生成器
type PathGenerator struct {
	suffix func() string
}

// NewPathGenerator 创建路径生成器
func NewPathGenerator() *PathGenerator {
	return &PathGenerator{
		suffix: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// StorageIdentifiers 存储标识
type StorageIdentifiers struct {
	Identifier  string // 内容键，文件名去掉扩展名
	Filename    string // 如 a1b2c3d4e5f6a7b8_1700000000000_1a2b3c4d.jpg
	StoragePath string // 如 2024/01/a1b2c3d4e5f6a7b8_1700000000000_1a2b3c4d.jpg
}

// GenerateOriginalIdentifiers 生成 <yyyy>/<mm>/<hash16>_<unixMillis>_<uuid8><ext>
// 按月分桶限制单个目录的规模，随机后缀避免同一毫秒内的碰撞
func (pg *PathGenerator) GenerateOriginalIdentifiers(addressHash, ext string, uploadTime time.Time) StorageIdentifiers {
	prefix := strings.ToLower(addressHash)
	if len(prefix) > hashPrefixLength {
		prefix = prefix[:hashPrefixLength]
	}

	identifier := fmt.Sprintf("%s_%d_%s", prefix, uploadTime.UnixMilli(), pg.suffix())
	filename := identifier + ext

	return StorageIdentifiers{
		Identifier:  identifier,
		Filename:    filename,
		StoragePath: path.Join(uploadTime.Format("2006/01"), filename),
	}
}

// ExtensionFor 选择扩展名：处理后的格式优先，其次声明的 MIME，最后是原文件名
func ExtensionFor(format, mimeType, filename string) string {
	if format != "" {
		if ext := utils.GetSafeExtension("image/" + format); ext != "" {
			return ext
		}
	}
	if ext := utils.GetSafeExtension(mimeType); ext != "" {
		return ext
	}
	if ext := utils.GetExtensionFromFilename(filename); safeExtPattern.MatchString(ext) {
		return ext
	}
	return ""
}
