package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	globalConfig Config
	once         sync.Once
)

// Config 扁平化配置结构体
type Config struct {
	// 服务器配置
	ServerHost         string        `mapstructure:"server_host"`
	ServerPort         int           `mapstructure:"server_port"`
	ServerDomain       string        `mapstructure:"server_domain"`
	ServerReadTimeout  time.Duration `mapstructure:"server_read_timeout"`
	ServerWriteTimeout time.Duration `mapstructure:"server_write_timeout"`
	ServerIdleTimeout  time.Duration `mapstructure:"server_idle_timeout"`
	ServerCorsOrigins  string        `mapstructure:"server_cors_origins"`

	// 数据库配置
	DBType            string `mapstructure:"db_type"`
	DBHost            string `mapstructure:"db_host"`
	DBPort            int    `mapstructure:"db_port"`
	DBUsername        string `mapstructure:"db_username"`
	DBPassword        string `mapstructure:"db_password"`
	DBName            string `mapstructure:"db_name"`
	DBFilePath        string `mapstructure:"db_file_path"`
	DBMaxOpenConns    int    `mapstructure:"db_max_open_conns"`
	DBMaxIdleConns    int    `mapstructure:"db_max_idle_conns"`
	DBConnMaxLifetime int    `mapstructure:"db_conn_max_lifetime"`

	// 缓存提供者配置
	CacheType          string        `mapstructure:"cache_type"`
	CacheRedisAddr     string        `mapstructure:"cache_redis_addr"`
	CacheRedisPassword string        `mapstructure:"cache_redis_password"`
	CacheRedisDB       int           `mapstructure:"cache_redis_db"`
	CacheMetadataTTL   time.Duration `mapstructure:"cache_metadata_ttl"`

	// 限流配置
	RateLimitApiRPS     float64       `mapstructure:"rate_limit_api_rps"`
	RateLimitApiBurst   int           `mapstructure:"rate_limit_api_burst"`
	RateLimitImageRPS   float64       `mapstructure:"rate_limit_image_rps"`
	RateLimitImageBurst int           `mapstructure:"rate_limit_image_burst"`
	RateLimitExpireTime time.Duration `mapstructure:"rate_limit_expire_time"`

	// 上传配置
	UploadRoot              string `mapstructure:"upload_root"`
	UploadMaxSizeMB         int    `mapstructure:"upload_max_size_mb"`
	UploadDefaultCapacityMB int64  `mapstructure:"upload_default_capacity_mb"`
	UploadDefaultQuality    int    `mapstructure:"upload_default_quality"`
	UploadMaxWidth          int    `mapstructure:"upload_max_width"`
	UploadMaxHeight         int    `mapstructure:"upload_max_height"`

	// 图片处理器: imaging | vips
	ImageProcessor string `mapstructure:"image_processor"`

	// 安全配置
	LinkSecret   string        `mapstructure:"link_secret"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTExpiresIn time.Duration `mapstructure:"jwt_expires_in"`
	DataDir      string        `mapstructure:"data_dir"`

	// 后台任务
	DeleteConcurrency    int           `mapstructure:"delete_concurrency"`
	WorkerCount          int           `mapstructure:"worker_count"`
	ReconcileCron        string        `mapstructure:"reconcile_cron"`
	ReconcileGracePeriod time.Duration `mapstructure:"reconcile_grace_period"`
}

// InitConfig Initialize configuration
func InitConfig() {
	once.Do(func() {
		loadConfig()
	})
}

func Get() *Config {
	return &globalConfig
}

// loadConfig Core configuration loading
func loadConfig() {
	setDefaults()

	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Info: .env file not found, using defaults and environment variables")
	} else {
		fmt.Fprintln(os.Stderr, "Info: Loaded configuration from .env file")
	}

	viper.AutomaticEnv()
	for _, key := range viper.AllKeys() {
		_ = viper.BindEnv(key)
	}

	if err := viper.Unmarshal(&globalConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: Unable to unmarshal config, %v\n", err)
		os.Exit(1)
	}

	if IsProduction() && globalConfig.LinkSecret == devLinkSecret {
		fmt.Fprintln(os.Stderr, "Fatal error: link_secret must be set in release builds")
		os.Exit(1)
	}

	// WorkerCount: -1 = 使用 CPU 线程数, 0 = 使用默认值, >0 = 使用指定值
	switch {
	case globalConfig.WorkerCount < 0:
		globalConfig.WorkerCount = runtime.GOMAXPROCS(0)
	case globalConfig.WorkerCount == 0:
		globalConfig.WorkerCount = getCpus()
	}
}

const devLinkSecret = "moe-vault-dev-link-secret"

// setDefaults 设置默认值
func setDefaults() {
	// 服务器配置默认值
	viper.SetDefault("server_host", "127.0.0.1")
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("server_domain", "")
	viper.SetDefault("server_read_timeout", "15s")
	viper.SetDefault("server_write_timeout", "30s")
	viper.SetDefault("server_idle_timeout", "120s")
	viper.SetDefault("server_cors_origins", "*")

	// 数据库配置默认值
	viper.SetDefault("db_type", "sqlite")
	viper.SetDefault("db_host", "localhost")
	viper.SetDefault("db_port", 5432)
	viper.SetDefault("db_username", "postgres")
	viper.SetDefault("db_password", "")
	viper.SetDefault("db_name", "moe-vault")
	viper.SetDefault("db_file_path", "./data/moe-vault.db")
	viper.SetDefault("db_max_open_conns", 100)
	viper.SetDefault("db_max_idle_conns", 25)
	viper.SetDefault("db_conn_max_lifetime", 3600)

	// 缓存提供者配置默认值
	viper.SetDefault("cache_type", "memory")
	viper.SetDefault("cache_redis_addr", "localhost:6379")
	viper.SetDefault("cache_redis_password", "")
	viper.SetDefault("cache_redis_db", 0)
	viper.SetDefault("cache_metadata_ttl", "10m")

	// 限流配置默认值
	viper.SetDefault("rate_limit_api_rps", 30.0)
	viper.SetDefault("rate_limit_api_burst", 60)
	viper.SetDefault("rate_limit_image_rps", 100.0)
	viper.SetDefault("rate_limit_image_burst", 200)
	viper.SetDefault("rate_limit_expire_time", "10m")

	// 上传配置默认值
	viper.SetDefault("upload_root", "./public/uploads")
	viper.SetDefault("upload_max_size_mb", 50)
	viper.SetDefault("upload_default_capacity_mb", 1024)
	viper.SetDefault("upload_default_quality", 85)
	viper.SetDefault("upload_max_width", 0)
	viper.SetDefault("upload_max_height", 0)

	viper.SetDefault("image_processor", "imaging")

	// 安全配置默认值
	viper.SetDefault("link_secret", devLinkSecret)
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("jwt_expires_in", "24h")
	viper.SetDefault("data_dir", "./data")

	// 后台任务默认值
	viper.SetDefault("delete_concurrency", 8)
	viper.SetDefault("worker_count", 0)
	viper.SetDefault("reconcile_cron", "0 30 3 * * *")
	viper.SetDefault("reconcile_grace_period", "24h")
}

// Addr 返回监听地址，格式为 "host:port"
func (c *Config) Addr() string {
	host := c.ServerHost
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.ServerPort
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// BaseURL 返回基础 URL，用于生成图片链接
func (c *Config) BaseURL() string {
	if c.ServerDomain != "" {
		return strings.TrimRight(c.ServerDomain, "/")
	}
	host := c.ServerHost
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	port := c.ServerPort
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// DefaultCapacityBytes 返回未单独设置容量的用户默认配额
func (c *Config) DefaultCapacityBytes() int64 {
	return c.UploadDefaultCapacityMB << 20
}

// CorsOrigins 解析允许的跨域来源列表
func (c *Config) CorsOrigins() []string {
	if c.ServerCorsOrigins == "" {
		return []string{"*"}
	}
	parts := strings.Split(c.ServerCorsOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// getCpus 获取默认线程数量
func getCpus() int {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		return 2
	}
	return n
}
