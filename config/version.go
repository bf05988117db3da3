package config

// AppName 用于 CLI、日志与指标命名空间
const AppName = "moe-vault"

var (
	Version    string = "dev"
	CommitHash string = ""
)

// IsProduction 生产环境：Version 为 "release" 且 CommitHash 不为空
func IsProduction() bool {
	return Version == "release" && CommitHash != ""
}

// IsDevelopment 判断是否为开发环境
func IsDevelopment() bool {
	return Version == "dev"
}
