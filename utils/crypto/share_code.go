package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/rand"

	"github.com/sqids/sqids-go"
)

const shareAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// shareCodeMinLength 短码最小长度
const shareCodeMinLength = 10

// ShareCode 短分享码编解码
// 短码只是查找记录的别名，不授予任何访问权限
type ShareCode struct {
	encoder *sqids.Sqids
}

// NewShareCode 使用由密钥确定性打乱的字母表创建编码器
func NewShareCode(secret string) (*ShareCode, error) {
	if secret == "" {
		return nil, errors.New("share code secret is empty")
	}
	encoder, err := sqids.New(sqids.Options{
		Alphabet:  shuffleAlphabet(secret),
		MinLength: shareCodeMinLength,
	})
	if err != nil {
		return nil, err
	}
	return &ShareCode{encoder: encoder}, nil
}

// Encode 编码 (图片ID, 所有者ID, 时间戳)
func (s *ShareCode) Encode(imageID, ownerID uint, timestamp int64) (string, error) {
	if timestamp < 0 {
		timestamp = 0
	}
	return s.encoder.Encode([]uint64{uint64(imageID), uint64(ownerID), uint64(timestamp)})
}

// Decode 解码短码，非规范形式一律拒绝
func (s *ShareCode) Decode(code string) (imageID, ownerID uint, ok bool) {
	if code == "" {
		return 0, 0, false
	}
	numbers := s.encoder.Decode(code)
	if len(numbers) != 3 || numbers[0] == 0 {
		return 0, 0, false
	}

	canonical, err := s.encoder.Encode(numbers)
	if err != nil || canonical != code {
		return 0, 0, false
	}
	return uint(numbers[0]), uint(numbers[1]), true
}

// shuffleAlphabet 使用密钥派生的种子打乱字母表
func shuffleAlphabet(secret string) string {
	sum := sha256.Sum256([]byte("moe-vault/share/" + secret))
	r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	alphabet := []rune(shareAlphabet)
	r.Shuffle(len(alphabet), func(i, j int) {
		alphabet[i], alphabet[j] = alphabet[j], alphabet[i]
	})
	return string(alphabet)
}
