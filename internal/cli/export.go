package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a store as JSON",
		Long:  "Export every entry of the target store as JSON, in the format read by import.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	name := requireStore(cfg)
	ms, closeStore := openStore(cfg)
	defer closeStore()

	exp, err := ms.ExportStore(cmd.Context(), name)
	if err != nil {
		closeStore()
		exitErr("export", err)
	}
	printJSON(exp)
}
