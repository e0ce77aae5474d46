package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List or create stores",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available stores",
		Run:   runStoresList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Create an empty store (sqlite backend only)",
		Args:  cobra.ExactArgs(1),
		Run:   runStoresCreate,
	})

	RootCmd.AddCommand(cmd)
}

func runStoresList(cmd *cobra.Command, args []string) {
	ms, closeStore := openStore(loadConfig())
	defer closeStore()

	names := ms.List(cmd.Context())
	if textOutput() {
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}
	printJSON(names)
}

func runStoresCreate(cmd *cobra.Command, args []string) {
	s := openSQLite(loadConfig())
	defer s.Close()

	if err := s.CreateStore(cmd.Context(), args[0]); err != nil {
		s.Close()
		exitErr("create store", err)
	}
	fmt.Printf(`{"ok":true,"store":%q}`+"\n", args[0])
}
