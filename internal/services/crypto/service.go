package crypto

import (
	"encoding/json"
	"fmt"

	cryptoutils "github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/crypto"
)

// Service 存储凭据加密服务
type Service struct {
	keyManager *cryptoutils.MasterKeyManager
	sealer     *cryptoutils.Sealer
}

// NewService 创建加密服务
func NewService(dataPath string) *Service {
	return &Service{
		keyManager: cryptoutils.NewMasterKeyManager(dataPath),
	}
}

// NewServiceWithKey 使用给定主密钥创建已就绪的服务
func NewServiceWithKey(masterKey []byte) (*Service, error) {
	sealer, err := cryptoutils.NewSealer(masterKey)
	if err != nil {
		return nil, err
	}
	return &Service{sealer: sealer}, nil
}

// Initialize 初始化密钥管理
func (s *Service) Initialize(hasSealedData func() (bool, error)) error {
	if err := s.keyManager.Initialize(hasSealedData); err != nil {
		return fmt.Errorf("failed to initialize master key: %w", err)
	}

	sealer, err := cryptoutils.NewSealer(s.keyManager.GetKey())
	if err != nil {
		return fmt.Errorf("failed to create sealer: %w", err)
	}
	s.sealer = sealer
	return nil
}

// SealJSON 序列化并加密配置
func (s *Service) SealJSON(data map[string]any) (string, error) {
	if s.sealer == nil {
		return "", fmt.Errorf("crypto service not initialized")
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}
	return s.sealer.Seal(string(jsonData))
}

// OpenJSON 解密并反序列化配置，明文 JSON 同样接受
func (s *Service) OpenJSON(sealed string) (map[string]any, error) {
	if s.sealer == nil {
		return nil, fmt.Errorf("crypto service not initialized")
	}

	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	data := map[string]any{}
	if plain == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(plain), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return data, nil
}

// IsSealed 检查是否已加密
func (s *Service) IsSealed(v string) bool {
	return cryptoutils.IsSealed(v)
}
