package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kadirbelkuyu/dbsync/internal/app"
	"github.com/kadirbelkuyu/dbsync/internal/config"
	"github.com/kadirbelkuyu/dbsync/internal/profiles"

	"github.com/spf13/cobra"
)

const appName = "dbsync: schema-tracked change replication"

var rootCmd = &cobra.Command{
	Use:   "dbsync",
	Short: "Keep an internal table store and an external database in sync",
	Long:  `Reconciles tables from PostgreSQL, MySQL or MongoDB into the internal store on a schedule and writes user changes back as SQL or Mongo operations.`,
	RunE:  runInteractive,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle",
	RunE:  runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Reconcile on the configured schedule and write changes back",
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Apply a recorded transaction log to the external store",
	RunE:  runReplay,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration and show the next scheduled runs",
	RunE:  runValidate,
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Launch the guided interactive workflow",
	RunE:  runInteractive,
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage saved sync configurations",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfilesList,
}

var profilesSaveCmd = &cobra.Command{
	Use:   "save <alias>",
	Short: "Validate a configuration file and save it as a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesSave,
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <alias>",
	Short: "Validate a saved profile and print its summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesShow,
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <alias>",
	Short: "Delete a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesDelete,
}

var workflowService = app.NewService(os.Stdout)

var (
	configPath       string
	profileDir       string
	profileType      string
	outputPath       string
	recordPath       string
	catalogPath      string
	transactionsPath string
	dryRun           bool
	verbose          bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profiles", "configs", "Directory holding saved profiles")

	for _, cmd := range []*cobra.Command{syncCmd, serveCmd, replayCmd, validateCmd, profilesSaveCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "Path to the sync configuration file or profile alias")
		cmd.MarkFlagRequired("config")
	}

	syncCmd.Flags().StringVar(&outputPath, "output", "", "Write the resulting transactions to a JSON-lines log")
	serveCmd.Flags().StringVar(&recordPath, "record", "", "Append every committed transaction to a JSON-lines log")
	replayCmd.Flags().StringVar(&catalogPath, "catalog", "", "Initial catalog file, overrides source.catalog")
	replayCmd.Flags().StringVar(&transactionsPath, "transactions", "", "Transaction log, overrides source.transactions")
	replayCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log statements instead of executing them")
	profilesListCmd.Flags().StringVar(&profileType, "type", "", "Only list profiles for this external store type")

	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesSaveCmd)
	profilesCmd.AddCommand(profilesShowCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(profilesCmd)

	cobra.OnInitialize(func() {
		rootCmd.SilenceUsage = true
		rootCmd.SilenceErrors = true
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}

// loadConfig accepts a file path or the alias of a saved profile.
func loadConfig(ref string) (*config.Config, error) {
	if _, err := os.Stat(ref); err != nil {
		cfg, profileErr := profiles.NewManager(profileDir).Load(ref)
		if profileErr != nil {
			return nil, fmt.Errorf("cannot load config: %w", err)
		}
		return cfg, validate(cfg)
	}

	cfg, err := config.LoadConfig(ref)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	return cfg, validate(cfg)
}

func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot use config: %w", err)
	}
	return nil
}

func runInteractive(cmd *cobra.Command, args []string) error {
	application := app.NewApplication(os.Stdin, os.Stdout, profileDir, printBanner)
	return application.RunInteractive(cmd.Context())
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return workflowService.Sync(cmd.Context(), cfg, app.SyncOptions{Verbose: verbose, Output: outputPath})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return workflowService.Serve(cmd.Context(), cfg, verbose, recordPath)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return workflowService.Replay(cmd.Context(), cfg, app.ReplayOptions{
		Catalog:      catalogPath,
		Transactions: transactionsPath,
		DryRun:       dryRun,
		Verbose:      verbose,
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return workflowService.Validate(cfg)
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	list, err := profiles.NewManager(profileDir).List(profileType)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No profiles in %s\n", profileDir)
		return nil
	}
	for _, p := range list {
		fmt.Printf("%-24s %-9s %-10s %3d tables  %s\n", p.Name, p.Type, p.Mode, p.Tables, p.Modified.Format("2006-01-02 15:04"))
	}
	return nil
}

func runProfilesSave(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	profile, err := profiles.NewManager(profileDir).Save(args[0], cfg)
	if err != nil {
		return fmt.Errorf("cannot save profile: %w", err)
	}
	fmt.Printf("Saved profile %s to %s\n", profile.Name, profile.Path)
	return nil
}

func runProfilesShow(cmd *cobra.Command, args []string) error {
	cfg, err := profiles.NewManager(profileDir).Load(args[0])
	if err != nil {
		return fmt.Errorf("cannot load profile: %w", err)
	}
	return workflowService.Validate(cfg)
}

func runProfilesDelete(cmd *cobra.Command, args []string) error {
	if err := profiles.NewManager(profileDir).Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %s\n", args[0])
	return nil
}

func printBanner() {
	fmt.Println(appName)
	fmt.Println(strings.Repeat("-", len(appName)))
}
