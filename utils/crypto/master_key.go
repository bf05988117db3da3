package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// MasterKeyEnv 主密钥环境变量（base64 编码的 32 字节）
	MasterKeyEnv = "CONFIG_ENCRYPTION_KEY"
	// MasterKeyFile 主密钥文件名
	MasterKeyFile = "master.key"
	// KeyDir 密钥存储目录
	KeyDir = "config"
)

// ErrStaleCredentials 存在已加密的存储凭据却找不到主密钥
var ErrStaleCredentials = errors.New("encrypted strategy credentials exist but the master key is missing; restore master.key or set " + MasterKeyEnv)

// SecureKey 安全密钥封装，支持内存清理
type SecureKey struct {
	key  []byte
	lock sync.RWMutex
}

// Get 获取密钥
func (sk *SecureKey) Get() []byte {
	sk.lock.RLock()
	defer sk.lock.RUnlock()
	return sk.key
}

// Clear 清零内存并释放
func (sk *SecureKey) Clear() {
	sk.lock.Lock()
	defer sk.lock.Unlock()
	for i := range sk.key {
		sk.key[i] = 0
	}
	runtime.KeepAlive(sk.key)
	sk.key = nil
}

// MasterKeyManager 主密钥管理器
// 来源优先级：环境变量 > 密钥文件 > 新生成
type MasterKeyManager struct {
	key      *SecureKey
	dataPath string
	source   string // "env" | "file" | "generated"
}

// NewMasterKeyManager 创建主密钥管理器
func NewMasterKeyManager(dataPath string) *MasterKeyManager {
	return &MasterKeyManager{dataPath: dataPath}
}

// Initialize 加载或生成主密钥
// hasSealedData 用于检测库中是否已有密文，避免重新生成密钥导致旧凭据无法解密
func (m *MasterKeyManager) Initialize(hasSealedData func() (bool, error)) error {
	key, source, err := m.load()
	if err != nil {
		return err
	}

	if key == nil {
		if hasSealedData != nil {
			exists, err := hasSealedData()
			if err != nil {
				return fmt.Errorf("failed to check existing credentials: %w", err)
			}
			if exists {
				return ErrStaleCredentials
			}
		}
		if key, err = m.generate(); err != nil {
			return err
		}
		source = "generated"
	}

	m.key = &SecureKey{key: key}
	m.source = source
	m.printFingerprint()
	return nil
}

func (m *MasterKeyManager) load() ([]byte, string, error) {
	if envKey := os.Getenv(MasterKeyEnv); envKey != "" {
		key, err := decodeKey(envKey)
		if err != nil {
			return nil, "", fmt.Errorf("invalid %s: %w", MasterKeyEnv, err)
		}
		return key, "env", nil
	}

	data, err := os.ReadFile(m.keyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read master key file: %w", err)
	}
	key, err := decodeKey(string(data))
	if err != nil {
		return nil, "", fmt.Errorf("invalid master key file: %w", err)
	}
	return key, "file", nil
}

func (m *MasterKeyManager) generate() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	keyPath := m.keyPath()
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write master key file: %w", err)
	}
	return key, nil
}

func (m *MasterKeyManager) keyPath() string {
	return filepath.Join(m.dataPath, KeyDir, MasterKeyFile)
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// printFingerprint 打印密钥指纹（SHA256 前8字节）
func (m *MasterKeyManager) printFingerprint() {
	sum := sha256.Sum256(m.key.Get())
	log.Printf("[Crypto] Master key source: %s, fingerprint: %s", m.source, hex.EncodeToString(sum[:8]))
}

// GetKey 获取主密钥
func (m *MasterKeyManager) GetKey() []byte {
	if m.key == nil {
		return nil
	}
	return m.key.Get()
}

// GetSource 获取密钥来源
func (m *MasterKeyManager) GetSource() string {
	return m.source
}
