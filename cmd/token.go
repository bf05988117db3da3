package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/auth"
	"github.com/spf13/cobra"
)

// tokenCmd 签发访问令牌，用于在没有外部认证服务时调试接口
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a user id",
	Run: func(cmd *cobra.Command, args []string) {
		userID, _ := cmd.Flags().GetUint("user-id")
		username, _ := cmd.Flags().GetString("username")
		role, _ := cmd.Flags().GetString("role")
		expires, _ := cmd.Flags().GetDuration("expires")

		if userID == 0 {
			log.Fatal("--user-id is required")
		}

		config.InitConfig()
		cfg := config.Get()
		if expires <= 0 {
			expires = cfg.JWTExpiresIn
		}

		svc, err := auth.NewJWTService(cfg.JWTSecret, expires)
		if err != nil {
			log.Fatalf("Failed to initialize JWT: %v", err)
		}
		token, expiresAt, err := svc.GenerateAccessToken(userID, username, role)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}

		fmt.Println(token)
		log.Printf("Token for user %d expires at %s", userID, expiresAt.Format(time.RFC3339))
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Uint("user-id", 0, "User id carried in the token")
	tokenCmd.Flags().String("username", "", "Username claim")
	tokenCmd.Flags().String("role", "user", "Role claim")
	tokenCmd.Flags().Duration("expires", 0, "Token lifetime (defaults to the configured lifetime)")
}
