package hash

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"

	"golang.org/x/crypto/sha3"
)

// SecureLinkLength 安全短链使用的地址哈希前缀长度
const SecureLinkLength = 32

// AddressHashLength 完整地址哈希长度（SHA3-256 十六进制）
const AddressHashLength = 64

var lookupHashPattern = regexp.MustCompile(`^(?:[0-9a-fA-F]{32}|[0-9a-fA-F]{64})$`)

// Digest 文件指纹
// MD5 仅用于快速去重，允许碰撞；SHA3 作为公开地址
type Digest struct {
	MD5  string
	SHA3 string
}

// Sum 计算最终字节的两种哈希
func Sum(data []byte) Digest {
	m := md5.Sum(data)
	s := sha3.Sum256(data)
	return Digest{
		MD5:  hex.EncodeToString(m[:]),
		SHA3: hex.EncodeToString(s[:]),
	}
}

// SecureLink 返回地址哈希的前 32 位
func SecureLink(addressHash string) string {
	if len(addressHash) <= SecureLinkLength {
		return addressHash
	}
	return addressHash[:SecureLinkLength]
}

// ValidLookupHash 校验查询用哈希：32 或 64 位十六进制
func ValidLookupHash(s string) bool {
	return lookupHashPattern.MatchString(s)
}
