package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/dagent/pkg/storage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent deployment history",
	Long:  `status reads the persistence layer directly and prints the most recent processed deployments.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Int("limit", 10, "Maximum number of entries to show, most recent first")
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	history, err := store.ListDeploymentHistory()
	if err != nil {
		return fmt.Errorf("list deployment history: %w", err)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	if len(history) == 0 {
		fmt.Println("No deployments recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEPLOYMENT ID\tTYPE\tSTATUS\tROOT PACKAGES")
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", entry.DeploymentID, entry.Type, entry.Status, rootPackagesColumn(entry.RootPackages))
	}
	return w.Flush()
}

func rootPackagesColumn(roots []string) string {
	if len(roots) == 0 {
		return "-"
	}
	out := roots[0]
	for _, r := range roots[1:] {
		out += "," + r
	}
	return out
}
