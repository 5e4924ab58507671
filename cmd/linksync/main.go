package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"linksync/internal/app"
	"linksync/internal/config"
	"linksync/internal/credentials"
	"linksync/internal/linksync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, string, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	return cfg, paths.ConfigPath, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cfg, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// printResult prints a sync result and turns error results into a command error.
func printResult(res linksync.Result) error {
	if res.Status == linksync.ResultError {
		return errors.New(strings.TrimSpace(res.Title + " " + res.Message))
	}
	if res.Message == "" {
		fmt.Println(res.Title)
	} else {
		fmt.Printf("%s %s\n", res.Title, res.Message)
	}
	return nil
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:          "linksync",
	Short:        "Sync WordPress content with the semantic linking service",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the credentials store",
	RunE: func(cmd *cobra.Command, args []string) error {
		siteURL, _ := cmd.Flags().GetString("site-url")
		dsn, _ := cmd.Flags().GetString("dsn")

		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(siteURL, paths.BaseDir)
		cfg.Content.DSN = dsn

		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		creds, err := credentials.NewStoreFromConfig(cfg.Credentials)
		if err != nil {
			return err
		}
		if err := creds.Setup(); err != nil {
			return fmt.Errorf("setting up credentials: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Site URL: %s\n", cfg.SiteURL)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Run 'linksync auth login' to store the API key.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Site URL:  %s\n", cfg.SiteURL)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Remote:    %s (client %s)\n", cfg.Remote.RootURL, cfg.Remote.ClientVersion)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Content:   %s\n", cfg.Content.Type)
		fmt.Printf("Sync:      %s, speed %d, %d KB\n", cfg.Sync.Mode, cfg.Sync.Speed, cfg.Sync.ByteBudgetKB)
		fmt.Printf("Sources:   %s\n", strings.Join(cfg.Source.PostSources, ", "))
		fmt.Printf("Overlay:   %t\n", cfg.Features.OverlayEnabled)
		fmt.Printf("Commerce:  %t\n", cfg.Features.CommerceEnabled)
		return nil
	},
}

// auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage remote service credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API key and fetch an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readAPIKey()
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Login(cmd.Context(), key)
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// readAPIKey prompts for the key without echo on a terminal, or reads one
// line from piped stdin.
func readAPIKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch a fresh access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.RefreshToken(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Queue content that is not tracked yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Discover(cmd.Context())
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		fmt.Printf("Queued %d new item(s)\n", n)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send content to the remote service",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover and send all pending content in one session",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SyncRun(cmd.Context(), force)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return printResult(res)
	},
}

var syncInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Start a session and plan its batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.InitSession(cmd.Context(), force)
		if err != nil {
			return fmt.Errorf("sync init failed: %w", err)
		}
		return printResult(res)
	},
}

var syncNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Send the next batch of the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.NextBatch(cmd.Context())
		if err != nil {
			return err
		}
		if len(out.SentBatch) > 0 {
			fmt.Printf("Sent batch %v\n", out.SentBatch)
		}
		if err := printResult(out.Result); err != nil {
			return err
		}
		if out.HasBatch {
			fmt.Printf("%d batch(es) left\n", out.BatchLength())
		} else {
			fmt.Println("No batches left, run 'linksync sync finish'.")
		}
		return nil
	},
}

var syncFinishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Send categories and close the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.FinishSession(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync finish failed: %w", err)
		}
		return printResult(res)
	},
}

// writeback command
var writebackCmd = &cobra.Command{
	Use:   "writeback",
	Short: "Apply link updates from the remote service",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.WriteBack(cmd.Context())
		if err != nil {
			return fmt.Errorf("write-back failed: %w", err)
		}
		return printResult(res)
	},
}

// saved and trashed commands
var savedCmd = &cobra.Command{
	Use:   "saved ID",
	Short: "Send an item after it was saved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		id, err := parseItemID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ContentSaved(cmd.Context(), id, source != "")
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

var trashedCmd = &cobra.Command{
	Use:   "trashed ID",
	Short: "Send the trashed state of an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseItemID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ContentTrashed(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the sync queue and any session in progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Reset(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show site and queue totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Report(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}

		fmt.Printf("Posts:        %d\n", r.Posts)
		fmt.Printf("Pages:        %d\n", r.Pages)
		fmt.Printf("Categories:   %d\n", r.TotalCategories)
		fmt.Printf("Queue:        %d\n", r.TotalQueue)
		fmt.Printf("  pending:    %d\n", r.OnQueue)
		fmt.Printf("  synced:     %d\n", r.SyncDone)
		fmt.Printf("  failed:     %d\n", r.Failed)
		fmt.Printf("  ignored:    %d\n", r.Ignored)
		fmt.Printf("Content size: %s\n", r.ContentSize)
		return nil
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View or change the persisted sync settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View sync settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Settings(cmd.Context())
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

func printSettings(s linksync.SyncSettings) {
	fmt.Printf("Budget:     %s %d\n", s.Budget.Mode, s.Budget.Limit)
	fmt.Printf("Sources:    %s\n", strings.Join(s.Source.Sources(), ", "))
	if len(s.Source.Categories) > 0 {
		fmt.Printf("Categories: %v\n", s.Source.Categories)
	}
	if s.Source.SyncBy != "" {
		fmt.Printf("Sync by:    %s\n", s.Source.SyncBy)
		fmt.Printf("URL list:   %d url(s)\n", len(linksync.ParseURLList(s.Source.URLList)))
	}
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change sync settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Settings(cmd.Context())
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("mode") {
			mode, _ := flags.GetString("mode")
			s.Budget.Mode = linksync.BudgetMode(mode)
		}
		if flags.Changed("limit") {
			s.Budget.Limit, _ = flags.GetInt64("limit")
		}
		if flags.Changed("sources") {
			s.Source.PostSources, _ = flags.GetStringSlice("sources")
		}
		if flags.Changed("categories") {
			s.Source.Categories, _ = flags.GetInt64Slice("categories")
		}
		if flags.Changed("sync-by") {
			s.Source.SyncBy, _ = flags.GetString("sync-by")
		}
		if flags.Changed("url-list") {
			path, _ := flags.GetString("url-list")
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading url list: %w", err)
			}
			s.Source.URLList = string(data)
		}
		if s.Source.SyncBy != "" && s.Source.SyncBy != linksync.SyncByURLs {
			return fmt.Errorf("unknown sync-by %q", s.Source.SyncBy)
		}

		cleared, err := a.UpdateSettings(cmd.Context(), s)
		if err != nil {
			return err
		}
		printSettings(s)
		if cleared {
			fmt.Println("Source filter changed: queue cleared, run 'linksync discover'.")
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-13s  %s  %-8s  %-8s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				r.Message,
			)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run discovery, sync, write-back and token refresh on schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("site-url", "", "Public URL of the WordPress site")
	configInitCmd.Flags().String("dsn", "", "MySQL DSN of the WordPress database")
	_ = configInitCmd.MarkFlagRequired("site-url")

	// auth subcommands
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authRefreshCmd)

	// sync subcommands
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncInitCmd)
	syncCmd.AddCommand(syncNextCmd)
	syncCmd.AddCommand(syncFinishCmd)
	syncRunCmd.Flags().BoolP("force", "f", false, "Resend content that is already synced")
	syncInitCmd.Flags().BoolP("force", "f", false, "Resend content that is already synced")

	// settings subcommands
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsSetCmd.Flags().String("mode", "", "Batch budget mode: count or bytes")
	settingsSetCmd.Flags().Int64("limit", 0, "Items per batch (count) or bytes per batch (bytes)")
	settingsSetCmd.Flags().StringSlice("sources", nil, "Content types to sync")
	settingsSetCmd.Flags().Int64Slice("categories", nil, "Only sync items in these category ids")
	settingsSetCmd.Flags().String("sync-by", "", "Set to 'urls' to sync the url list only")
	settingsSetCmd.Flags().String("url-list", "", "File with the URLs to sync")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(writebackCmd)
	rootCmd.AddCommand(savedCmd)
	savedCmd.Flags().String("source", "", "Builder whose save hook raised the event, e.g. elementor")
	rootCmd.AddCommand(trashedCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Bool("json", false, "Print the report as JSON")
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(serveCmd)
}
