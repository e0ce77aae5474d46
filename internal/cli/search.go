package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entries by keyword",
		Long:  "Search entry keys, aliases and content of the target store for matching text.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	cfg := loadConfig()
	name := requireStore(cfg)
	ms, closeStore := openStore(cfg)
	defer closeStore()

	results, err := ms.Search(cmd.Context(), name, query, limit)
	if err != nil {
		closeStore()
		exitErr("search", err)
	}

	if len(results) == 0 {
		printJSON([]any{})
		return
	}
	printJSON(results)
}
