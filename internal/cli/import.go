package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-summary/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import entries from JSON",
		Long: "Import entries from JSON (file or stdin) in the format produced by export. " +
			"Entries are matched by key, so re-importing updates instead of duplicating. " +
			"The target is --store, or the store named in the export.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var exp store.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		exitErr("parse json", err)
	}

	cfg := loadConfig()
	target := cfg.Store.Name
	if target == "" {
		target = exp.Store
	}
	if target == "" {
		exitErr("import", errors.New("no target store (use --store or export a named store)"))
	}

	ms, closeStore := openStore(cfg)
	defer closeStore()

	imported, err := ms.Import(cmd.Context(), target, exp.Entries)
	if err != nil {
		closeStore()
		failOp("import", err)
	}

	fmt.Printf(`{"ok":true,"store":%q,"imported":%d}`+"\n", target, imported)
}
