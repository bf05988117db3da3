package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/app"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// migrateCmd 数据库迁移命令
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the database schema",
	Long: `Create or update tables for the configured database and make sure the
built-in local storage strategy exists.`,
	Run: func(cmd *cobra.Command, args []string) {
		config.InitConfig()
		container := app.NewContainer(config.Get())
		if err := container.InitDatabase(); err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer container.Close()

		log.Printf("Migrating database, type: %s", container.GetDatabaseFactory().GetProvider().Name())
		if err := container.Migrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Database migrated successfully")
	},
}

// migrateRunCmd 跨数据库复制数据
var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Copy all data from one database to another",
	Long: `Copy users, storage strategies, albums and image records from a source
database to a target database (e.g., SQLite to PostgreSQL).

Strategy configs are copied still sealed, so the target must be served with
the same master key.

Examples:
  moe-vault migrate run --from-sqlite ./data/moe-vault.db --to-postgres "host=localhost user=postgres password=secret dbname=moevault port=5432"

  # Replace rows that already exist in the target
  moe-vault migrate run --from-sqlite ./data/moe-vault.db --to-postgres "..." --on-conflict=overwrite`,
	Run: func(cmd *cobra.Command, args []string) {
		fromType, _ := cmd.Flags().GetString("from-type")
		toType, _ := cmd.Flags().GetString("to-type")
		fromDSN, _ := cmd.Flags().GetString("from-dsn")
		toDSN, _ := cmd.Flags().GetString("to-dsn")
		fromSQLite, _ := cmd.Flags().GetString("from-sqlite")
		toPostgres, _ := cmd.Flags().GetString("to-postgres")
		skipConfirm, _ := cmd.Flags().GetBool("yes")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		onConflict, _ := cmd.Flags().GetString("on-conflict")

		if fromSQLite != "" {
			fromType, fromDSN = "sqlite", fromSQLite
		}
		if toPostgres != "" {
			toType, toDSN = "postgres", toPostgres
		}

		if err := runMigration(fromType, toType, fromDSN, toDSN, skipConfirm, batchSize, onConflict); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateRunCmd)

	migrateRunCmd.Flags().String("from-type", "", "Source database type (sqlite, postgres)")
	migrateRunCmd.Flags().String("to-type", "", "Target database type (sqlite, postgres)")
	migrateRunCmd.Flags().String("from-dsn", "", "Source database DSN/connection string")
	migrateRunCmd.Flags().String("to-dsn", "", "Target database DSN/connection string")
	migrateRunCmd.Flags().String("from-sqlite", "", "Source SQLite file path (shortcut)")
	migrateRunCmd.Flags().String("to-postgres", "", "Target PostgreSQL connection string (shortcut)")
	migrateRunCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	migrateRunCmd.Flags().Int("batch-size", 100, "Batch size for data migration")
	migrateRunCmd.Flags().String("on-conflict", "skip", "Conflict resolution strategy: skip (default), overwrite, error")
}

// migrateStats 迁移统计
type migrateStats struct {
	copied map[string]int
	errors []string
}

// runMigration 执行数据库迁移
func runMigration(fromType, toType, fromDSN, toDSN string, skipConfirm bool, batchSize int, onConflict string) error {
	if onConflict != "skip" && onConflict != "overwrite" && onConflict != "error" {
		return fmt.Errorf("invalid on-conflict strategy: %s (must be skip, overwrite, or error)", onConflict)
	}
	if fromType == "" || toType == "" {
		return fmt.Errorf("both --from-type and --to-type are required")
	}
	if fromDSN == "" || toDSN == "" {
		return fmt.Errorf("both --from-dsn and --to-dsn (or shortcuts) are required")
	}
	if fromType == toType && fromDSN == toDSN {
		return fmt.Errorf("source and target databases are the same")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	log.Printf("Migrating from %s to %s", fromType, toType)
	log.Printf("Source: %s", maskDSN(fromDSN))
	log.Printf("Target: %s", maskDSN(toDSN))
	log.Printf("Conflict strategy: %s", onConflict)

	sourceDB, err := openDatabase(fromType, fromDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to source database: %w", err)
	}
	sqlDB, _ := sourceDB.DB()
	defer sqlDB.Close()

	targetDB, err := openDatabase(toType, toDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to target database: %w", err)
	}
	sqlDB2, _ := targetDB.DB()
	defer sqlDB2.Close()

	if !skipConfirm {
		fmt.Println("\nWarning: This will copy all data from source to target database.")
		fmt.Printf("Conflict resolution strategy: %s\n", onConflict)
		fmt.Print("Do you want to continue? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Migration cancelled.")
			return nil
		}
	}

	log.Println("Migrating database schema...")
	if err := targetDB.AutoMigrate(database.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	ctx := context.Background()
	stats := &migrateStats{copied: make(map[string]int)}

	// 按外键依赖顺序复制
	steps := []struct {
		table string
		run   func() (int, error)
	}{
		{"users", func() (int, error) { return copyTable[models.User](ctx, sourceDB, targetDB, batchSize, onConflict) }},
		{"storage_strategies", func() (int, error) {
			return copyTable[models.StorageStrategy](ctx, sourceDB, targetDB, batchSize, onConflict)
		}},
		{"user_strategies", func() (int, error) {
			return copyTable[models.UserStrategy](ctx, sourceDB, targetDB, batchSize, onConflict)
		}},
		{"albums", func() (int, error) { return copyTable[models.Album](ctx, sourceDB, targetDB, batchSize, onConflict) }},
		{"images", func() (int, error) { return copyTable[models.Image](ctx, sourceDB, targetDB, batchSize, onConflict) }},
	}

	for _, step := range steps {
		log.Printf("Migrating %s...", step.table)
		n, err := step.run()
		stats.copied[step.table] = n
		if err != nil {
			stats.errors = append(stats.errors, fmt.Sprintf("%s migration failed: %v", step.table, err))
			if onConflict == "error" {
				printMigrateStats(stats)
				return err
			}
			continue
		}
		if err := resetSequence(targetDB, toType, step.table); err != nil {
			stats.errors = append(stats.errors, fmt.Sprintf("%s sequence reset failed: %v", step.table, err))
		}
	}

	printMigrateStats(stats)

	if len(stats.errors) > 0 {
		return fmt.Errorf("migration completed with %d errors", len(stats.errors))
	}

	log.Println("Migration completed successfully!")
	return nil
}

// copyTable 分批复制一张表，主键保持不变
func copyTable[T any](ctx context.Context, sourceDB, targetDB *gorm.DB, batchSize int, onConflict string) (int, error) {
	target := targetDB.WithContext(ctx)
	switch onConflict {
	case "skip":
		target = target.Clauses(clause.OnConflict{DoNothing: true})
	case "overwrite":
		target = target.Clauses(clause.OnConflict{UpdateAll: true})
	}
	target = target.Omit(clause.Associations).Session(&gorm.Session{})

	var rows []T
	copied := 0
	result := sourceDB.WithContext(ctx).Model(new(T)).FindInBatches(&rows, batchSize, func(tx *gorm.DB, batch int) error {
		if err := target.Create(&rows).Error; err != nil {
			return err
		}
		copied += len(rows)
		if copied%1000 == 0 {
			log.Printf("  copied %d rows...", copied)
		}
		return nil
	})
	return copied, result.Error
}

// resetSequence 显式写入主键后 PostgreSQL 的自增序列需要对齐
func resetSequence(db *gorm.DB, dbType, table string) error {
	if dbType != "postgres" && dbType != "postgresql" {
		return nil
	}
	return db.Exec(fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)",
		table, table,
	)).Error
}

// openDatabase 打开数据库连接
func openDatabase(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// maskDSN 隐藏敏感信息
func maskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:50] + "..."
	}
	return dsn
}

// printMigrateStats 打印迁移统计
func printMigrateStats(stats *migrateStats) {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       Migration Statistics")
	fmt.Println("========================================")
	for _, table := range []string{"users", "storage_strategies", "user_strategies", "albums", "images"} {
		fmt.Printf("%-20s %d\n", table+":", stats.copied[table])
	}
	fmt.Println("========================================")

	if len(stats.errors) > 0 {
		fmt.Println("\nErrors encountered:")
		for _, err := range stats.errors {
			fmt.Printf("  - %s\n", err)
		}
	}
}
