// Package cli implements the chat-summary CLI commands.
package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-summary/internal/config"
	"github.com/rcliao/chat-summary/internal/hoststore"
	"github.com/rcliao/chat-summary/internal/llm"
	"github.com/rcliao/chat-summary/internal/log"
	"github.com/rcliao/chat-summary/internal/store"
	"github.com/rcliao/chat-summary/internal/summary"
)

var (
	configPath string
	dbPath     string
	storeName  string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "chat-summary",
	Short: "Two-tier chat transcript summarizer",
	Long: "Condenses chat transcripts into small summaries of message windows and compacts them " +
		"into big summaries, kept as keyed entries in a memory store.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CHAT_SUMMARY_CONFIG or ~/.chat-summary/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (overrides store.sqlite_path)")
	RootCmd.PersistentFlags().StringVarP(&storeName, "store", "s", "", "Target store name (overrides store.name)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() config.Config {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Store.SQLitePath = dbPath
	}
	if storeName != "" {
		cfg.Store.Name = storeName
	}
	log.SetLevel(cfg.LogLevel)
	log.Debugf("config %s: store backend %s, generation backend %s", cfg.Path, cfg.Store.Backend, cfg.Generation.Backend)
	return cfg
}

// openStore returns the memory store for the configured backend and a func
// that releases it.
func openStore(cfg config.Config) (*store.MemoryStore, func()) {
	if cfg.Store.Backend == config.StoreHost {
		c := hoststore.New(hoststore.Options{
			BaseURL:    cfg.Store.Host.URL,
			CSRFToken:  cfg.Store.Host.CSRFToken,
			HTTPClient: &http.Client{Timeout: cfg.Store.Host.Timeout},
		})
		return store.New(c), func() {}
	}
	s := openSQLite(cfg)
	return store.New(s), func() { s.Close() }
}

func openSQLite(cfg config.Config) *store.SQLiteStore {
	if cfg.Store.Backend != config.StoreSQLite {
		exitErr("open store", fmt.Errorf("command needs the %s backend, configured backend is %s", config.StoreSQLite, cfg.Store.Backend))
	}
	s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
	if err != nil {
		exitErr("open store", err)
	}
	return s
}

func openPipeline(cfg config.Config, ms *store.MemoryStore) *summary.Pipeline {
	gen, err := llm.New(cfg.Generation)
	if err != nil {
		exitErr("generation backend", err)
	}
	var opts []summary.Option
	if cfg.Summary.LockFile != "" {
		// A lock older than two full runs belongs to a process that died holding it.
		opts = append(opts, summary.WithGuard(summary.NewFileGuard(cfg.Summary.LockFile, 2*cfg.Summary.Timeout)))
	}
	return summary.New(cfg.Pipeline(), ms, gen, opts...)
}

func requireStore(cfg config.Config) string {
	if strings.TrimSpace(cfg.Store.Name) == "" {
		exitErr("store", errors.New("no store selected (use --store or store.name)"))
	}
	return cfg.Store.Name
}

// readContent takes the positional args, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

// confirm shows a preview on stderr and asks for a yes on stdin.
func confirm(title, preview string) bool {
	fmt.Fprintf(os.Stderr, "=== %s ===\n%s\n=== end ===\n%s? [y/N] ", title, preview, title)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func textOutput() bool { return formatFlag == "text" }

// failOp reports a pipeline or store failure. When every write strategy
// failed, the content that was meant to be written goes to stdout first.
func failOp(msg string, err error) {
	var pe *store.PersistError
	if errors.As(err, &pe) {
		fmt.Fprintln(os.Stderr, "warning: could not save to the store; unsaved content follows on stdout")
		if pe.Content != "" {
			fmt.Println(pe.Content)
		} else {
			printJSON(pe.Entries)
		}
	}
	exitErr(msg, err)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
