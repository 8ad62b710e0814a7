package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zaja/SyncBackup/internal/app"
	"github.com/zaja/SyncBackup/internal/config"
	"github.com/zaja/SyncBackup/internal/model"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "syncbackup",
	Short: "Scheduled folder backup with incremental chains",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Database: %s (%s)\n", cfg.Database.Type, cfg.Database.DataDir)
		return nil
	},
}

// job command
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage backup jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a backup job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		source, _ := cmd.Flags().GetString("source")
		dest, _ := cmd.Flags().GetString("dest")
		preserveDeleted, _ := cmd.Flags().GetBool("preserve-deleted")
		resetAfter, _ := cmd.Flags().GetInt("reset-after")
		keep, _ := cmd.Flags().GetInt("keep")
		exclude, _ := cmd.Flags().GetString("exclude")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var patterns []string
		if exclude != "" {
			patterns = strings.Split(exclude, ",")
		}

		job, err := a.AddJob(app.JobParams{
			Name:            args[0],
			Kind:            kind,
			SourcePath:      source,
			DestPath:        dest,
			PreserveDeleted: preserveDeleted,
			ResetChainAfter: resetAfter,
			ExcludePatterns: patterns,
			KeepCount:       keep,
		})
		if err != nil {
			return fmt.Errorf("adding job: %w", err)
		}

		fmt.Printf("Job %q created (%s)\n", job.Name, job.Kind)
		fmt.Printf("  %s -> %s\n", job.SourcePath, job.DestPath)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.ListJobs()
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}

		for _, j := range jobs {
			extras := ""
			if j.Kind == model.JobIncremental {
				extras = fmt.Sprintf("  reset-after:%d preserve-deleted:%t", j.ResetChainAfter, j.PreserveDeleted)
			}
			fmt.Printf("%-20s %-12s keep:%d%s\n", j.Name, j.Kind, j.KeepCount, extras)
			fmt.Printf("    %s -> %s\n", j.SourcePath, j.DestPath)
		}
		return nil
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a backup job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveJob(args[0]); err != nil {
			return err
		}

		fmt.Printf("Job %q removed. Existing backup folders were left on disk.\n", args[0])
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a backup job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RunJob(args[0])
		if err != nil {
			return err
		}

		printResult(args[0], result)
		if result.Status == model.RunError {
			return fmt.Errorf("run failed: %s", result.Message)
		}
		return nil
	},
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Run every backup job",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		outcomes, err := a.RunAll()
		if err != nil {
			return err
		}

		if len(outcomes) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}

		failed := 0
		for _, o := range outcomes {
			printResult(o.Job.Name, o.Result)
			if o.Result.Status == model.RunError {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d job(s) failed", failed)
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile NAME",
	Short: "Resolve orphan folders and corrupt chains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.ReconcileJob(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Orphan folders removed: %d\n", len(report.OrphansRemoved))
		for _, p := range report.OrphansRemoved {
			fmt.Printf("  %s\n", p)
		}
		fmt.Printf("Chains closed (missing baseline): %d\n", len(report.ChainsClosed))
		if len(report.FailedUnits) > 0 {
			fmt.Printf("Failed units needing inspection:\n")
			for _, p := range report.FailedUnits {
				fmt.Printf("  %s\n", p)
			}
		}
		for _, f := range report.Failures {
			fmt.Printf("warning: %s\n", f)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history NAME",
	Short: "View a job's run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.History(args[0], limit)
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range recs {
			msg := ""
			if r.Message != "" {
				msg = "  " + r.Message
			}
			fmt.Printf("%s  %-8s  files:%-5d bytes:%-10d %s%s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.FilesCopied,
				r.BytesCopied,
				r.Duration.Truncate(1e6),
				msg,
			)
		}
		return nil
	},
}

func printResult(jobName string, r *model.RunResult) {
	switch r.Status {
	case model.RunSuccess:
		fmt.Printf("%s: success  files:%d bytes:%d  %s\n", jobName, r.FilesCopied, r.BytesCopied, r.FolderPath)
	case model.RunSkipped:
		fmt.Printf("%s: skipped  (%s)\n", jobName, r.Message)
	default:
		fmt.Printf("%s: error  %s\n", jobName, r.Message)
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// job subcommands
	jobCmd.AddCommand(jobAddCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobRemoveCmd)
	jobAddCmd.Flags().String("kind", "simple", "Job kind: simple or incremental")
	jobAddCmd.Flags().String("source", "", "Source folder to back up")
	jobAddCmd.Flags().String("dest", "", "Destination root for backup folders")
	jobAddCmd.Flags().Bool("preserve-deleted", false, "Write _DELETED markers for deleted files")
	jobAddCmd.Flags().Int("reset-after", 0, "Incrementals before a forced new baseline (0 = never)")
	jobAddCmd.Flags().Int("keep", 0, "Retention window in chains/units (0 = keep everything)")
	jobAddCmd.Flags().String("exclude", "", "Comma-separated exclude patterns")
	jobAddCmd.MarkFlagRequired("source")
	jobAddCmd.MarkFlagRequired("dest")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
