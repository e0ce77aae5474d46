package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-summary/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "big",
		Short: "Compact the small summaries",
		Long: "Compact the small-summary entry. With the append policy the result is added as a chapter " +
			"of the big-summary entry; with the replace policy it replaces the small summaries with weighted records.",
		Run: runBig,
	}
	cmd.Flags().String("policy", "", "Compaction policy: append or replace (default: summary.compaction_policy)")
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	RootCmd.AddCommand(cmd)
}

func runBig(cmd *cobra.Command, args []string) {
	policy, _ := cmd.Flags().GetString("policy")
	yes, _ := cmd.Flags().GetBool("yes")

	cfg := loadConfig()
	if policy != "" {
		cfg.Summary.CompactionPolicy = config.CompactionPolicy(policy)
	}

	ms, closeStore := openStore(cfg)
	defer closeStore()

	if !yes {
		name := requireStore(cfg)
		small, err := ms.Read(cmd.Context(), name, cfg.Summary.SmallEntry)
		if err != nil {
			closeStore()
			exitErr("read small summary", err)
		}
		if small != "" && !confirm(fmt.Sprintf("Compact with policy %s", cfg.Summary.CompactionPolicy), small) {
			fmt.Fprintln(os.Stderr, "cancelled")
			return
		}
	}

	res, err := openPipeline(cfg, ms).GenerateBig(cmd.Context())
	if err != nil {
		closeStore()
		failOp("big summary", err)
	}

	if textOutput() {
		fmt.Println(res.Text)
		return
	}
	printJSON(res)
}
