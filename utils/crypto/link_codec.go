package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
)

// LinkCodec 将图片 ID 加密为不可猜测的分享 token
// token 不含过期时间，需要过期语义的调用方应自行在明文中携带时间戳
type LinkCodec struct {
	aead cipher.AEAD
}

// NewLinkCodec 由进程级密钥派生 AES-256-GCM
func NewLinkCodec(secret string) (*LinkCodec, error) {
	if secret == "" {
		return nil, errors.New("link secret is empty")
	}
	key := sha256.Sum256([]byte("moe-vault/link/" + secret))
	aead, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}
	return &LinkCodec{aead: aead}, nil
}

// Encode 加密 ID，输出 URL 安全的 base64
func (c *LinkCodec) Encode(id uint) string {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}

	var plain [8]byte
	binary.BigEndian.PutUint64(plain[:], uint64(id))

	sealed := c.aead.Seal(nonce, nonce, plain[:], nil)
	return base64.RawURLEncoding.EncodeToString(sealed)
}

// Decode 解密 token，任何异常都返回 false
func (c *LinkCodec) Decode(token string) (uint, bool) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, false
	}

	nonceSize := c.aead.NonceSize()
	if len(data) != nonceSize+8+c.aead.Overhead() {
		return 0, false
	}

	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil || len(plain) != 8 {
		return 0, false
	}

	id := binary.BigEndian.Uint64(plain)
	if id == 0 || id > uint64(^uint(0)) {
		return 0, false
	}
	return uint(id), true
}
