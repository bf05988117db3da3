package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefixV1 AES-256-GCM 密文版本前缀
const SealedPrefixV1 = "__ENC:v1:"

// Sealer 存储凭据加解密器
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer 使用 32 字节主密钥创建加解密器
func NewSealer(masterKey []byte) (*Sealer, error) {
	aead, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal 加密字符串，返回带版本前缀的密文；已加密内容原样返回
func (s *Sealer) Seal(plaintext string) (string, error) {
	if IsSealed(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefixV1 + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open 解密带版本前缀的密文；未加密内容原样返回
func (s *Sealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return sealed, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefixV1))
	if err != nil {
		return "", fmt.Errorf("decode error: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt error: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed 检查字符串是否已加密
func IsSealed(s string) bool {
	return strings.HasPrefix(s, SealedPrefixV1)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
