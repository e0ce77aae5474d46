package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-summary/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Read or write a single entry",
	}

	get := &cobra.Command{
		Use:   "get [name]",
		Short: "Show the entry matching a primary key or alias",
		Args:  cobra.ExactArgs(1),
		Run:   runEntryGet,
	}

	put := &cobra.Command{
		Use:   "put [name] [content]",
		Short: "Create or replace an entry's content",
		Long: "Create or replace an entry's content. Content can follow the name or be piped via stdin, " +
			"which makes this the way to restore summaries a failed save printed out.",
		Args: cobra.MinimumNArgs(1),
		Run:  runEntryPut,
	}
	put.Flags().Int("depth", -1, "Activation depth (default: unchanged, 0 for new entries)")
	put.Flags().StringSlice("alias", nil, "Extra lookup aliases")

	cmd.AddCommand(get, put)
	RootCmd.AddCommand(cmd)
}

func runEntryGet(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	name := requireStore(cfg)
	ms, closeStore := openStore(cfg)
	defer closeStore()

	entries, err := ms.Load(cmd.Context(), name)
	if err != nil {
		closeStore()
		exitErr("get", err)
	}
	e := store.FindByKey(entries, args[0])
	if e == nil {
		closeStore()
		exitErr("get", fmt.Errorf("no entry named %q in %s", args[0], name))
	}

	if textOutput() {
		fmt.Println(e.Content)
		return
	}
	printJSON(e)
}

func runEntryPut(cmd *cobra.Command, args []string) {
	depth, _ := cmd.Flags().GetInt("depth")
	aliases, _ := cmd.Flags().GetStringSlice("alias")

	content := readContent(args[1:])
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	cfg := loadConfig()
	name := requireStore(cfg)
	ms, closeStore := openStore(cfg)
	defer closeStore()

	opts := []store.UpsertOption{store.WithAliases(aliases...)}
	if depth >= 0 {
		opts = append(opts, store.WithActivationDepth(depth))
	}
	e, err := ms.Upsert(cmd.Context(), name, args[0], strings.TrimRight(content, "\n"), opts...)
	if err != nil {
		closeStore()
		failOp("put", err)
	}
	printJSON(e)
}
