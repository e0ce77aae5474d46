package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics (sqlite backend only)",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s := openSQLite(cfg)
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), cfg.Store.SQLitePath)
	if err != nil {
		s.Close()
		exitErr("stats", err)
	}
	printJSON(stats)
}
