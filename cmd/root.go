package cmd

import (
	"log"
	"os"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/app"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Image hosting service with pluggable storage backends",
	Run: func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// openContainer 连接并迁移数据库、加载主密钥，供不需要完整服务的子命令使用
func openContainer() *app.Container {
	config.InitConfig()
	container := app.NewContainer(config.Get())
	if err := container.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := container.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	if container.Sealer == nil {
		if err := container.InitCrypto(); err != nil {
			log.Fatalf("Failed to initialize master key: %v", err)
		}
	}
	return container
}
