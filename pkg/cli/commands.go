package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/internal/engine"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/config"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/patterns"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/process"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

func newRunCmd() *cobra.Command {
	var (
		workflow      string
		platforms     []string
		skipThrottle  bool
		installerPath string
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "run <owner/repo> <version>",
		Short: "Run the fallback release pipeline for a repository",
		Long: `Check whether hosted CI is throttled and, if so, replay the release
workflow locally: linux jobs in containers, macOS and Windows jobs on the
configured native hosts. Produced artifacts are consolidated, signed, and
written to the release directory together with a manifest and checksums.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(args[0], args[1], workflow, platforms, skipThrottle, installerPath, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&workflow, "workflow", "w", ".github/workflows/release.yml", "workflow file to replay")
	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "job names to build (default: all)")
	cmd.Flags().BoolVar(&skipThrottle, "skip-throttle-check", false, "run even when hosted CI is healthy")
	cmd.Flags().StringVar(&installerPath, "installer", "", "existing installer script to infer artifact naming from")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the run report as JSON")

	return cmd
}

func newCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <owner/repo>...",
		Short: "Check whether hosted CI is throttled for one or more repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the throttle report as JSON")

	return cmd
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [owner/repo]",
		Short: "Show lock state and recent runs",
		Long:  `Display the lock holder and recent fallback runs, for one repository or all.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := ""
			if len(args) > 0 {
				repo = args[0]
			}
			return runStatus(repo, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit status as JSON")

	return cmd
}

func newUnlockCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "unlock <owner/repo>",
		Short: "Force-release a repository lock",
		Long: `Remove the lock for a repository regardless of holder. The release is
recorded in the recovery log. Only use this when the holding run is known
to be dead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(args[0], reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual unlock", "reason recorded in the recovery log")

	return cmd
}

func newPatternCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pattern <installer-script>",
		Short: "Show the artifact naming convention inferred from an installer script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPattern(args[0])
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Self-Releaser",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🛟 Self-Releaser v%s\n", version)
		},
	}
}

// Implementation functions

func buildEngine() (*engine.Engine, *types.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := createLogger(cfg)
	eng, err := engine.NewFactory(projectRoot, log, cfg).Build(engine.Dependencies{})
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func runRun(repo, ver, workflow string, platforms []string, skipThrottle bool, installerPath string, jsonOutput bool) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}

	pm := process.NewManager(nil)
	pm.OnShutdown(func() {
		printWarning("Interrupt received, winding down builds...")
	})
	ctx, stop := pm.Context(context.Background())
	defer stop()

	report, runErr := eng.Run(ctx, engine.RunRequest{
		Repo:              repo,
		Version:           ver,
		WorkflowFile:      workflow,
		Platforms:         platforms,
		SkipThrottleCheck: skipThrottle,
		InstallerScript:   installerPath,
	})

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if runErr != nil {
		return runErr
	}
	if report.Status == types.RunStatusError {
		return fmt.Errorf("run %s ended with status error", report.RunID)
	}
	return nil
}

func printReport(report *types.RunReport) {
	switch report.Status {
	case types.RunStatusSuccess:
		printSuccess(fmt.Sprintf("Run %s: %s %s (%s)", report.RunID, report.Repo, report.Version, report.Duration))
	case types.RunStatusPartial:
		printWarning(fmt.Sprintf("Run %s finished partially: %s %s (%s)", report.RunID, report.Repo, report.Version, report.Duration))
	default:
		printError(fmt.Sprintf("Run %s failed: %s %s (%s)", report.RunID, report.Repo, report.Version, report.Duration))
	}

	if report.Throttled != nil && !*report.Throttled {
		printInfo("Hosted CI is healthy, nothing to do")
		return
	}

	if len(report.Targets) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tPLATFORM\tSTRATEGY\tSTATUS\tDURATION\tARTIFACT")
		fmt.Fprintln(w, "---\t--------\t--------\t------\t--------\t--------")
		for _, t := range report.Targets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.JobName, t.Triple, t.Strategy, colorStatus(string(t.Status)), orDash(t.Duration), orDash(t.Artifact))
		}
		w.Flush()
	}

	for _, released := range report.Released {
		signed := ""
		if released.Signed {
			signed = " (signed)"
		}
		printInfo(fmt.Sprintf("Released %s%s", released.Path, signed))
	}
	for _, failure := range report.Failures {
		printError(failure)
	}
}

func runCheck(repos []string, jsonOutput bool) error {
	eng, cfg, err := buildEngine()
	if err != nil {
		return err
	}

	ctx, stop := process.NewManager(nil).Context(context.Background())
	defer stop()

	report, err := eng.Check(ctx, repos)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printInfo(fmt.Sprintf("Throttle threshold: %s", cfg.Throttle.Threshold()))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPO\tSTATE\tQUEUE")
	fmt.Fprintln(w, "----\t-----\t-----")
	for _, r := range report.Throttled {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Repo, color.RedString("throttled"), time.Duration(r.QueueSecs)*time.Second)
	}
	for _, r := range report.Healthy {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Repo, color.GreenString("healthy"), time.Duration(r.QueueSecs)*time.Second)
	}
	for _, r := range report.Errored {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Repo, color.YellowString("error"), r.Error)
	}
	w.Flush()

	if len(report.Throttled) > 0 {
		printWarning(fmt.Sprintf("%d repositories throttled", len(report.Throttled)))
	}
	return nil
}

type statusOutput struct {
	Repo string                `json:"repo,omitempty"`
	Lock *interfaces.LockState `json:"lock,omitempty"`
	Runs []*types.RunRecord    `json:"runs"`
}

func runStatus(repo string, jsonOutput bool) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	locks := eng.Locks()

	records, err := locks.ListRunRecords(repo)
	if err != nil {
		return err
	}

	out := statusOutput{Repo: repo, Runs: records}
	if repo != "" {
		state, err := locks.Inspect(repo)
		if err != nil {
			return err
		}
		out.Lock = state
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if out.Lock != nil {
		if out.Lock.Held {
			holder := fmt.Sprintf("run %s (pid %d, heartbeat %s ago)",
				out.Lock.RunID, out.Lock.PID, time.Since(out.Lock.Heartbeat).Round(time.Second))
			if out.Lock.Stale {
				printWarning(fmt.Sprintf("Lock held but STALE: %s", holder))
			} else {
				printInfo(fmt.Sprintf("Lock held: %s", holder))
			}
		} else {
			printInfo("Lock free")
		}
	}

	if len(records) == 0 {
		printInfo("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tREPO\tVERSION\tSTATUS\tSTARTED\tTARGETS")
	fmt.Fprintln(w, "---\t----\t-------\t------\t-------\t-------")
	for _, r := range records {
		ok := 0
		for _, t := range r.Targets {
			if t.Status == types.TargetStatusSuccess {
				ok++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			shortID(r.RunID), r.Repo, r.Version, colorStatus(string(r.Status)),
			r.StartedAt.Format("2006-01-02 15:04:05"), ok, len(r.Targets))
	}
	w.Flush()
	return nil
}

func runUnlock(repo, reason string) error {
	eng, _, err := buildEngine()
	if err != nil {
		return err
	}
	if err := eng.Locks().ForceRelease(repo, reason); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Released lock for %s", repo))
	return nil
}

func runPattern(scriptPath string) error {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read installer script: %w", err)
	}

	pattern := patterns.Extract(string(data))
	if pattern.Source == types.PatternSourceNone {
		printWarning("No artifact naming convention could be inferred")
		return nil
	}

	printSuccess(fmt.Sprintf("Inferred pattern: %s (%s)", pattern.Template, pattern.Source))
	return nil
}

func runInit(force bool) error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	cfg := config.NewManager().GetDefaultConfig()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printSuccess(fmt.Sprintf("Wrote %s", path))
	printInfo("Edit hosts.macos and hosts.windows to point at your native build hosts")
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "success":
		return color.GreenString(status)
	case "failed", "error":
		return color.RedString(status)
	case "partial", "skipped":
		return color.YellowString(status)
	case "running":
		return color.CyanString(status)
	default:
		return status
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
