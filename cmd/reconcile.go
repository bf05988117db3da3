package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// reconcileCmd 清理后端中没有记录指向的孤立对象
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remove backend objects that no image record points to",
	Long: `Walk every active storage strategy that supports listing and delete objects
older than the grace period that have no matching image record.

Use --dry-run to only report what would be removed.`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		container := openContainer()
		defer container.Close()

		if err := container.InitStorage(); err != nil {
			log.Fatalf("Failed to initialize storage: %v", err)
		}

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		reports, err := container.Reconciler.Run(ctx, dryRun)
		if err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				log.Fatalf("Failed to encode report: %v", err)
			}
			return
		}

		mode := "delete"
		if dryRun {
			mode = "dry-run"
		}
		fmt.Printf("Reconciliation (%s)\n", mode)
		fmt.Println("========================================")
		for _, r := range reports {
			if r.Skipped != "" {
				fmt.Printf("#%-4d %-9s skipped: %s\n", r.StrategyID, r.Type, r.Skipped)
				continue
			}
			fmt.Printf("#%-4d %-9s scanned=%d orphans=%d deleted=%d failed=%d\n",
				r.StrategyID, r.Type, r.Scanned, len(r.Orphans), r.Deleted, r.Failed)
			if dryRun {
				for _, key := range r.Orphans {
					fmt.Printf("      %s\n", key)
				}
			}
		}
		fmt.Println("========================================")
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().Bool("dry-run", false, "Only report orphaned objects")
	reconcileCmd.Flags().Bool("json", false, "Print the report as JSON")
	reconcileCmd.Flags().Duration("timeout", 30*time.Minute, "Abort the run after this duration (0 disables)")
}
