package storage

import (
	"fmt"
	"log"

	"github.com/mitchellh/mapstructure"
)

// BuildOptions 创建存储时的附加选项
type BuildOptions struct {
	// OnTokenRefresh OAuth 类后端刷新令牌后回调
	OnTokenRefresh TokenRefreshFunc
}

// BuilderFunc 由解密后的配置创建存储提供者
type BuilderFunc func(settings map[string]any, opts BuildOptions) (Provider, error)

// Factory 存储工厂 - 根据类型标识与配置创建存储提供者
type Factory struct {
	builders map[string]BuilderFunc
}

// NewFactory 创建存储工厂并注册全部内置类型
func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]BuilderFunc)}

	f.builders["local"] = func(settings map[string]any, _ BuildOptions) (Provider, error) {
		var cfg LocalConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewLocalStorage(cfg.Root)
	}
	f.builders["s3"] = func(settings map[string]any, _ BuildOptions) (Provider, error) {
		var cfg S3Config
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewS3Storage(cfg)
	}
	f.builders["webdav"] = func(settings map[string]any, _ BuildOptions) (Provider, error) {
		var cfg WebDAVConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewWebDAVStorage(cfg)
	}
	f.builders["aliyun"] = func(settings map[string]any, _ BuildOptions) (Provider, error) {
		var cfg AliyunConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewAliyunStorage(cfg)
	}
	f.builders["tencent"] = func(settings map[string]any, _ BuildOptions) (Provider, error) {
		var cfg TencentConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewTencentStorage(cfg)
	}
	f.builders["github"] = func(settings map[string]any, _ BuildOptions) (Provider, error) {
		var cfg GitHubConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewGitHubStorage(cfg)
	}
	f.builders["onedrive"] = func(settings map[string]any, opts BuildOptions) (Provider, error) {
		var cfg OneDriveConfig
		if err := decodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return NewOneDriveStorage(cfg, opts.OnTokenRefresh)
	}

	return f
}

// Register 注册或覆盖一种存储类型
func (f *Factory) Register(kind string, build BuilderFunc) {
	f.builders[kind] = build
}

// Build 创建指定类型的存储提供者
func (f *Factory) Build(kind string, settings map[string]any, opts BuildOptions) (Provider, error) {
	build, ok := f.builders[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported storage type '%s'", kind)
	}

	provider, err := build(settings, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", kind, err)
	}
	log.Printf("[Storage] Initialized '%s' storage provider", kind)
	return provider, nil
}

// Types 列出支持的存储类型
func (f *Factory) Types() []string {
	return []string{"local", "onedrive", "aliyun", "tencent", "github", "s3", "webdav"}
}

// decodeSettings 将 JSON 解出的 map 解码到具体配置结构
// 数字与布尔允许以字符串形式出现，时长支持 "30s" 写法
func decodeSettings(settings map[string]any, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("invalid storage settings: %w", err)
	}
	return nil
}
