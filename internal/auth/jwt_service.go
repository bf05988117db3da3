package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minSecretLength HS256 密钥最短长度
const minSecretLength = 32

const defaultRole = "user"

// TokenClaims JWT 令牌声明
type TokenClaims struct {
	UserID   uint
	Username string
	Role     string
	Exp      int64
	Iat      int64
}

// TokenConfig 保存 JWT 配置
type TokenConfig struct {
	Secret    []byte
	ExpiresIn time.Duration
}

// JWTService 校验外部认证方签发的 HS256 令牌，token 命令也用它签发测试令牌
type JWTService struct {
	mutex  sync.RWMutex
	config TokenConfig
	now    func() time.Time
}

// NewJWTService 创建新的 JWT 服务
func NewJWTService(secret string, expiresIn time.Duration) (*JWTService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters long, got %d", minSecretLength, len(secret))
	}
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return &JWTService{
		config: TokenConfig{Secret: []byte(secret), ExpiresIn: expiresIn},
		now:    time.Now,
	}, nil
}

// GetConfig 获取当前 JWT 配置（只读）
func (s *JWTService) GetConfig() TokenConfig {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return TokenConfig{
		Secret:    append([]byte{}, s.config.Secret...),
		ExpiresIn: s.config.ExpiresIn,
	}
}

// GenerateAccessToken 生成访问令牌
func (s *JWTService) GenerateAccessToken(userID uint, username, role string) (string, time.Time, error) {
	if userID == 0 {
		return "", time.Time{}, errors.New("user id is required")
	}
	config := s.GetConfig()
	if role == "" {
		role = defaultRole
	}

	now := s.now()
	expiry := now.Add(config.ExpiresIn)
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     expiry.Unix(),
		"iat":     now.Unix(),
	}
	if username != "" {
		claims["username"] = username
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(config.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, expiry, nil
}

// ParseToken 解析和验证 JWT 令牌
func (s *JWTService) ParseToken(tokenString string) (jwt.MapClaims, error) {
	config := s.GetConfig()

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return config.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ExtractClaims 从令牌中提取声明，user_id 缺失或非正数视为无效
func (s *JWTService) ExtractClaims(tokenString string) (*TokenClaims, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat < 1 || userIDFloat != float64(uint(userIDFloat)) {
		return nil, errors.New("user_id in token is not a valid number")
	}

	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if role == "" {
		role = defaultRole
	}
	expFloat, _ := claims["exp"].(float64)
	iatFloat, _ := claims["iat"].(float64)

	return &TokenClaims{
		UserID:   uint(userIDFloat),
		Username: username,
		Role:     role,
		Exp:      int64(expFloat),
		Iat:      int64(iatFloat),
	}, nil
}
