package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/spf13/cobra"
)

// strategyCmd 存储策略管理
var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Manage storage strategies",
}

var strategyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a storage strategy with an encrypted config",
	Long: `Create a storage strategy. Connection settings are encrypted with the
master key before they are written to the database.

Examples:
  moe-vault strategy add --name minio --type s3 --shared \
    --set endpoint=127.0.0.1:9000 --set bucket=images \
    --set access_key_id=minio --set secret_access_key=minio123

  moe-vault strategy add --name mine --type webdav --user-id 3 --default \
    --config '{"url":"https://dav.example.com","username":"u","password":"p"}'`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		kind, _ := cmd.Flags().GetString("type")
		rawConfig, _ := cmd.Flags().GetString("config")
		sets, _ := cmd.Flags().GetStringArray("set")
		shared, _ := cmd.Flags().GetBool("shared")
		userID, _ := cmd.Flags().GetUint("user-id")
		isDefault, _ := cmd.Flags().GetBool("default")
		description, _ := cmd.Flags().GetString("description")
		skipCheck, _ := cmd.Flags().GetBool("skip-check")

		settings, err := parseStrategySettings(rawConfig, sets)
		if err != nil {
			log.Fatalf("Invalid settings: %v", err)
		}
		if name == "" {
			log.Fatal("--name is required")
		}
		if !shared && userID == 0 {
			log.Fatal("either --shared or --user-id is required")
		}

		factory := storage.NewFactory()
		if !isKnownStorageType(factory, kind) {
			log.Fatalf("Unsupported storage type '%s' (supported: %s)", kind, strings.Join(factory.Types(), ", "))
		}
		if !skipCheck {
			if _, err := factory.Build(kind, settings, storage.BuildOptions{}); err != nil {
				log.Fatalf("Settings rejected: %v", err)
			}
		}

		container := openContainer()
		defer container.Close()

		sealed, err := container.Sealer.SealJSON(settings)
		if err != nil {
			log.Fatalf("Failed to encrypt settings: %v", err)
		}

		strategy := &models.StorageStrategy{
			Name:        name,
			Type:        models.StorageType(kind),
			ConfigJSON:  sealed,
			IsActive:    true,
			IsShared:    shared,
			Description: description,
		}
		if err := container.StrategiesRepo.Create(strategy); err != nil {
			log.Fatalf("Failed to create strategy: %v", err)
		}
		if userID != 0 {
			if err := container.StrategiesRepo.Bind(userID, strategy.ID, isDefault); err != nil {
				log.Fatalf("Failed to bind strategy to user %d: %v", userID, err)
			}
		}

		fmt.Printf("Created %s strategy #%d '%s'\n", kind, strategy.ID, name)
	},
}

var strategyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List storage strategies",
	Run: func(cmd *cobra.Command, args []string) {
		container := openContainer()
		defer container.Close()

		list, err := container.StrategiesRepo.List()
		if err != nil {
			log.Fatalf("Failed to list strategies: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tACTIVE\tSHARED\tDESCRIPTION")
		for _, s := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%s\n", s.ID, s.Name, s.Type, s.IsActive, s.IsShared, s.Description)
		}
		w.Flush()
	},
}

var strategyDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Deactivate a storage strategy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setStrategyActive(args[0], false)
	},
}

var strategyEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Activate a storage strategy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setStrategyActive(args[0], true)
	},
}

func init() {
	rootCmd.AddCommand(strategyCmd)
	strategyCmd.AddCommand(strategyAddCmd, strategyListCmd, strategyDisableCmd, strategyEnableCmd)

	strategyAddCmd.Flags().String("name", "", "Strategy name")
	strategyAddCmd.Flags().String("type", "local", "Storage type")
	strategyAddCmd.Flags().String("config", "", "Settings as a JSON object")
	strategyAddCmd.Flags().StringArray("set", nil, "Single setting as key=value (repeatable)")
	strategyAddCmd.Flags().Bool("shared", false, "Make the strategy available to every user")
	strategyAddCmd.Flags().Uint("user-id", 0, "Bind the strategy to this user")
	strategyAddCmd.Flags().Bool("default", false, "Use as the user's default strategy")
	strategyAddCmd.Flags().String("description", "", "Free-form description")
	strategyAddCmd.Flags().Bool("skip-check", false, "Store the settings without building the provider first")
}

func setStrategyActive(rawID string, active bool) {
	var id uint
	if _, err := fmt.Sscanf(rawID, "%d", &id); err != nil || id == 0 {
		log.Fatalf("Invalid strategy id '%s'", rawID)
	}

	container := openContainer()
	defer container.Close()

	if _, err := container.StrategiesRepo.GetByID(id); err != nil {
		log.Fatalf("Strategy #%d not found: %v", id, err)
	}
	if err := container.StrategiesRepo.SetActive(id, active); err != nil {
		log.Fatalf("Failed to update strategy #%d: %v", id, err)
	}
	fmt.Printf("Strategy #%d active=%t\n", id, active)
}

// parseStrategySettings 合并 JSON 配置与 key=value 形式的单项配置，后者优先
func parseStrategySettings(rawJSON string, sets []string) (map[string]any, error) {
	settings := make(map[string]any)
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &settings); err != nil {
			return nil, fmt.Errorf("config is not a JSON object: %w", err)
		}
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got '%s'", kv)
		}
		settings[key] = strings.TrimSpace(value)
	}
	return settings, nil
}

func isKnownStorageType(f *storage.Factory, kind string) bool {
	for _, t := range f.Types() {
		if t == kind {
			return true
		}
	}
	return false
}
