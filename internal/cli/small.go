package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "small",
		Short: "Summarize a message window",
		Long: "Select a message window, show it for confirmation and append its summary " +
			"to the small-summary entry of the target store.",
		Run: runSmall,
	}
	addWindowFlags(cmd)
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	RootCmd.AddCommand(cmd)
}

func runSmall(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")

	cfg := loadConfig()
	w := selectWindow(cmd, cfg)
	if w.Text == "" {
		fmt.Fprintf(os.Stderr, "nothing to summarize in floors %d-%d\n", w.Range.Start, w.Range.End)
		return
	}
	if !yes && !confirm(fmt.Sprintf("Summarize %d messages", len(w.Messages)), w.Text) {
		fmt.Fprintln(os.Stderr, "cancelled")
		return
	}

	ms, closeStore := openStore(cfg)
	defer closeStore()

	res, err := openPipeline(cfg, ms).GenerateSmall(cmd.Context(), w.Text)
	if err != nil {
		closeStore()
		failOp("small summary", err)
	}

	if textOutput() {
		fmt.Println(res.Summary)
		return
	}
	printJSON(res)
}
